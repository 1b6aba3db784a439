package quote

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviderAvailable means no candidate provider or fallback produced a
// value for any requested field of a security.
var ErrNoProviderAvailable = errors.New("no provider available")

// NoProviderError scopes ErrNoProviderAvailable to one security
type NoProviderError struct {
	SecurityID string
	Fields     []Field
	Attempts   map[string]Outcome // provider -> last outcome, skipped providers omitted
}

func (e *NoProviderError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("%v for %s (fields: %s, attempted: %d)",
		ErrNoProviderAvailable, e.SecurityID, strings.Join(names, ","), len(e.Attempts))
}

func (e *NoProviderError) Is(target error) bool {
	return target == ErrNoProviderAvailable
}
