package main

import (
	"fmt"
	"strconv"
)

// parseArgs validates the positional arguments. down defaults to one step.
func parseArgs(args []string) (string, int, error) {
	if len(args) == 0 {
		return "", 0, fmt.Errorf("missing command")
	}
	switch args[0] {
	case "up", "list":
		if len(args) > 1 {
			return "", 0, fmt.Errorf("%s takes no arguments", args[0])
		}
		return args[0], 0, nil
	case "down":
		if len(args) == 1 {
			return "down", 1, nil
		}
		if len(args) > 2 {
			return "", 0, fmt.Errorf("down takes at most one argument")
		}
		steps, err := strconv.Atoi(args[1])
		if err != nil || steps <= 0 {
			return "", 0, fmt.Errorf("invalid step count %q", args[1])
		}
		return "down", steps, nil
	default:
		return "", 0, fmt.Errorf("unknown command %q", args[0])
	}
}
