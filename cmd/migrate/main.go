package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/piresc/nebengjek-dispatch/internal/pkg/config"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/database"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", config.GetEnv("CONFIG_PATH", "config/dispatch.env"), "env file loaded when APP_ENV=local")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [-config file] up | down [steps] | list\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	configs := config.InitConfig(*configPath)
	zapLogger, err := logger.InitZapLoggerFromConfig(configs, nil)
	if err != nil {
		log.Fatalf("Failed to create Zap logger: %v", err)
	}
	defer zapLogger.Close()
	logger.SetGlobalLogger(zapLogger)

	cmd, steps, err := parseArgs(flag.Args())
	if err != nil {
		flag.Usage()
		os.Exit(2)
	}

	switch cmd {
	case "up":
		err = database.RunMigrations(configs.Database)
	case "down":
		err = database.RollbackMigrations(configs.Database, steps)
	case "list":
		var names []string
		names, err = database.MigrationNames()
		for _, name := range names {
			fmt.Println(name)
		}
	}
	if err != nil {
		logger.Fatal("Migration command failed", logger.String("command", cmd), logger.Err(err))
	}
	logger.Info("Migration command finished", logger.String("command", cmd), logger.Int("steps", steps))
}
