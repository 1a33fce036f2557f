package converter

import (
	"strings"

	"github.com/google/uuid"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/apperror"
)

// ParseID parses a path or query identifier into a UUID, reporting a validation error
func ParseID(field, s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, apperror.New(apperror.KindValidation, "parse "+field, "%s is required", field)
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apperror.New(apperror.KindValidation, "parse "+field, "%s must be a valid UUID", field)
	}
	return id, nil
}

// UUIDPtrToStr renders an optional UUID, empty when nil
func UUIDPtrToStr(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
