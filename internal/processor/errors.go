package processor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when no processor is registered for an extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrMissingColumns is returned when a tabular file lacks required columns.
	ErrMissingColumns = errors.New("missing required columns")
	// ErrInvalidData is returned when a value fails type or domain validation.
	ErrInvalidData = errors.New("invalid data")
)

// UnsupportedFormatError names the rejected extension and the ones that are accepted.
type UnsupportedFormatError struct {
	Extension string
	Supported []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q, supported formats: %s",
		e.Extension, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedFormatError) Unwrap() error { return ErrUnsupportedFormat }

// MissingColumnsError lists the required columns absent from the header row.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

func (e *MissingColumnsError) Unwrap() error { return ErrMissingColumns }

// InvalidDataError describes a validation failure. Field is the column or
// document element, Values holds offending literals when there are any, and
// Err is the underlying cause.
type InvalidDataError struct {
	Field  string
	Reason string
	Values []string
	Err    error
}

func (e *InvalidDataError) Error() string {
	var b strings.Builder
	b.WriteString("invalid data")
	if e.Field != "" {
		fmt.Fprintf(&b, " in %s", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Reason)
	if len(e.Values) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Values, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *InvalidDataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidData}
	}
	return []error{ErrInvalidData, e.Err}
}

// IsValidation reports whether err is a format or content problem with the
// uploaded file, as opposed to an infrastructure failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrMissingColumns) ||
		errors.Is(err, ErrInvalidData)
}
