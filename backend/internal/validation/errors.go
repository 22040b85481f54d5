package validation

import (
	"fmt"
	"sort"
	"strings"
)

// FormField is the key used for errors that do not belong to a single field.
const FormField = "_form"

// Errors is a field-keyed set of validation messages.
type Errors struct {
	Fields map[string][]string `json:"fields"`
}

func NewErrors() *Errors {
	return &Errors{Fields: make(map[string][]string)}
}

func (e *Errors) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *Errors) Has(field string) bool {
	return e != nil && len(e.Fields[field]) > 0
}

func (e *Errors) First(field string) string {
	if !e.Has(field) {
		return ""
	}
	return e.Fields[field][0]
}

func (e *Errors) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

// OrNil returns e as an error, or nil when no field failed.
func (e *Errors) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *Errors) fieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (e *Errors) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range e.fieldNames() {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], ", ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *Errors) UserMessage() string {
	names := e.fieldNames()
	if len(names) == 0 {
		return "Invalid input"
	}
	return fmt.Sprintf("Invalid %s - %s", names[0], e.Fields[names[0]][0])
}
