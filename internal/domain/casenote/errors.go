package casenote

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrGenerationInProgress = errors.New("a generation is already in progress for this session")
	ErrNoDischarge          = errors.New("no discharge summary has been generated")
)

// ValidationError reports a missing or invalid input. It never changes
// workflow state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
