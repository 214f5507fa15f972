// Package provider wraps the generative-language backend behind a single
// call contract.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/councilbot/councilbot/internal/session"
)

// Gateway generates text from an instruction and a chronological turn
// history. The final turn is the new input; the ones before it are history.
type Gateway interface {
	Generate(ctx context.Context, instruction string, turns []session.Turn) (string, error)
}

// Prompt is the single-prompt call shape.
func Prompt(ctx context.Context, g Gateway, instruction, text string) (string, error) {
	return g.Generate(ctx, instruction, []session.Turn{{Role: session.RoleOther, Text: text}})
}

// GenerationError is the only failure a Gateway returns. Cause is a
// human-readable description fit for showing to a user.
type GenerationError struct {
	Cause string
	Err   error
}

func (e *GenerationError) Error() string {
	return e.Cause
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func failure(err error, format string, args ...any) *GenerationError {
	cause := fmt.Sprintf(format, args...)
	if err != nil {
		cause = cause + ": " + err.Error()
	}
	return &GenerationError{Cause: cause, Err: err}
}

// Cause extracts the human-readable cause from a generation failure. Errors
// that are not a GenerationError are described by their message.
func Cause(err error) string {
	if err == nil {
		return ""
	}
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.Cause
	}
	return err.Error()
}

// ModelInfo describes a backend model.
type ModelInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Actions     []string `json:"actions,omitempty"`
}
