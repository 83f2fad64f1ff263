// Package validation collects field-level input errors so callers can report
// every problem with a submission at once.
package validation

import (
	"errors"
	"strings"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is an ordered list of field errors. The zero value is ready to use.
type Errors struct {
	list []FieldError
}

func New(field, message string) *Errors {
	e := &Errors{}
	e.Add(field, message)
	return e
}

func (e *Errors) Add(field, message string) {
	e.list = append(e.list, FieldError{Field: field, Message: message})
}

func (e *Errors) Empty() bool {
	return e == nil || len(e.list) == 0
}

// Err returns e as an error, or nil when nothing was recorded.
func (e *Errors) Err() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *Errors) Fields() []FieldError {
	if e == nil {
		return nil
	}
	out := make([]FieldError, len(e.list))
	copy(out, e.list)
	return out
}

// For returns the messages recorded against field.
func (e *Errors) For(field string) []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, fe := range e.list {
		if fe.Field == field {
			out = append(out, fe.Message)
		}
	}
	return out
}

func (e *Errors) Has(field string) bool {
	return len(e.For(field)) > 0
}

// ByField groups messages per field, for templates.
func (e *Errors) ByField() map[string][]string {
	out := make(map[string][]string)
	if e == nil {
		return out
	}
	for _, fe := range e.list {
		out[fe.Field] = append(out[fe.Field], fe.Message)
	}
	return out
}

func (e *Errors) Error() string {
	if e.Empty() {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.list))
	for _, fe := range e.list {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Merge appends the field errors carried by err. It reports false when err is
// non-nil but not a validation error; nothing is appended then.
func (e *Errors) Merge(err error) bool {
	if err == nil {
		return true
	}
	verr, ok := As(err)
	if !ok {
		return false
	}
	e.list = append(e.list, verr.list...)
	return true
}

// As unwraps err into *Errors.
func As(err error) (*Errors, bool) {
	var verr *Errors
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
