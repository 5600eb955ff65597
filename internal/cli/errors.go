package cli

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// CommandError provides structured error reporting for CLI commands.
type CommandError struct {
	Message    string
	Cause      error
	Suggestion string
	ExitCode   int
}

func (e CommandError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "command failed"
}

func (e CommandError) Unwrap() error {
	return e.Cause
}

// ExitStatus returns the process exit code associated with the error.
func (e CommandError) ExitStatus() int {
	if e.ExitCode != 0 {
		return e.ExitCode
	}
	return 1
}

func wrapError(message string, cause error, suggestion string, exitCode int) error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return CommandError{Message: message, Cause: cause, Suggestion: suggestion, ExitCode: exitCode}
}

func formatSuggestion(hint string) string {
	if hint == "" {
		return ""
	}
	return fmt.Sprintf("hint: %s", hint)
}

// closest suggests the candidate input most likely abbreviates or misspells.
// A candidate starting with input wins outright (the shortest one on ties).
// Otherwise the nearest candidate by edit distance is returned when it is
// within maxDistance and needs at most len(input)/2 edits; else "".
func closest(input string, candidates []string, maxDistance int) string {
	if input == "" {
		return ""
	}
	prefixed := ""
	for _, candidate := range candidates {
		if strings.HasPrefix(candidate, input) && (prefixed == "" || len(candidate) < len(prefixed)) {
			prefixed = candidate
		}
	}
	if prefixed != "" {
		return prefixed
	}

	limit := min(maxDistance, utf8.RuneCountInString(input)/2)
	best, bestDistance := "", limit+1
	for _, candidate := range candidates {
		if d := levenshtein.ComputeDistance(input, candidate); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best
}
