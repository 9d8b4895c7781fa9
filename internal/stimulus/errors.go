package stimulus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchema      = errors.New("stimulus source schema invalid")
	ErrEmptyFilter = errors.New("no stimuli match variation")
)

// SchemaError lists the required columns a tabular source is missing.
type SchemaError struct {
	Source  string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing required columns: %s", e.Source, strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// EmptyFilterError is returned when a variation selects no rows. The
// session for that variation cannot start.
type EmptyFilterError struct {
	Variation string
}

func (e *EmptyFilterError) Error() string {
	return fmt.Sprintf("variation %s: %s", e.Variation, ErrEmptyFilter.Error())
}

func (e *EmptyFilterError) Is(target error) bool { return target == ErrEmptyFilter }
