package registry

import (
	"fmt"
	"strings"
)

// ModelNotFoundError indicates no persisted bundle exists at the source.
// Recoverable by training a model first.
type ModelNotFoundError struct {
	Path string
}

func (e *ModelNotFoundError) Error() string {
	if e.Path == "" {
		return "no trained model loaded"
	}
	return fmt.Sprintf("no trained model found at %s", e.Path)
}

// SchemaMismatchError indicates the persisted feature-name list disagrees
// with the current feature engineer. Loading must fail rather than score
// silently misaligned columns; retraining resolves it.
type SchemaMismatchError struct {
	Expected []string
	Found    []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("model feature schema mismatch: engineer emits %d columns [%s], bundle holds %d columns [%s]",
		len(e.Expected), strings.Join(e.Expected, ","), len(e.Found), strings.Join(e.Found, ","))
}
