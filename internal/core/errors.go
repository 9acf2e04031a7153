package core

import (
	"sort"
	"strings"
)

// ValidationError reports a rejected payload. Field names the offending
// input, Values optionally lists the offending keys.
type ValidationError struct {
	Field  string
	Values []string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Field + ": " + e.Err.Error()
	if len(e.Values) > 0 {
		msg += ": " + strings.Join(e.Values, ", ")
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
