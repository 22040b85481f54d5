// Package validation holds the JSON-Schema definitions for inbound task and
// account data and turns schema failures into field-keyed messages.
package validation

import (
	"embed"
	"fmt"
	"path"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://taskify.local/schemas/"

// Schema names accepted by ValidateField.
const (
	TaskInsert  = "task_insert.json"
	TaskUpdate  = "task_update.json"
	TaskID      = "task_id.json"
	Credentials = "credentials.json"
	Account     = "account.json"
)

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = compileAll()
	})
	return compiled, compileErr
}

func compileAll() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	for _, e := range entries {
		f, err := schemaFS.Open(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("open schema %s: %w", e.Name(), err)
		}
		err = compiler.AddResource(schemaBaseURL+e.Name(), f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}

	out := make(map[string]*jsonschema.Schema)
	for _, name := range []string{TaskInsert, TaskUpdate, TaskID, Credentials, Account} {
		s, err := compiler.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// validate runs instance against the named schema and returns field errors,
// or nil when the instance is valid.
func validate(name string, instance map[string]interface{}) *Errors {
	all, err := schemas()
	if err != nil {
		errs := NewErrors()
		errs.Add(FormField, err.Error())
		return errs
	}
	s, ok := all[name]
	if !ok {
		errs := NewErrors()
		errs.Add(FormField, "unknown schema "+name)
		return errs
	}

	if err := s.Validate(instance); err != nil {
		errs := NewErrors()
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			errs.Add(FormField, err.Error())
			return errs
		}
		collectLeaves(ve, errs)
		if errs.Empty() {
			errs.Add(FormField, ve.Message)
		}
		return errs
	}
	return nil
}

func collectLeaves(ve *jsonschema.ValidationError, errs *Errors) {
	if len(ve.Causes) == 0 {
		field := strings.TrimPrefix(ve.InstanceLocation, "/")
		if i := strings.Index(field, "/"); i >= 0 {
			field = field[:i]
		}
		if field == "" {
			field = FormField
		}
		errs.Add(field, message(ve))
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, errs)
	}
}

func message(ve *jsonschema.ValidationError) string {
	keyword := ve.KeywordLocation
	if i := strings.LastIndex(keyword, "/"); i >= 0 {
		keyword = keyword[i+1:]
	}
	switch keyword {
	case "minLength":
		if strings.Contains(ve.Message, ">= 1,") {
			return "Required"
		}
		return strings.Replace(ve.Message, "length must be", "Must be", 1)
	case "enum":
		return "Invalid option"
	case "format":
		return "Invalid format"
	case "pattern":
		return "Invalid date"
	}
	return ve.Message
}

// ValidateField checks a single field against the named schema, ignoring
// every other property. It backs per-field validation on form change events.
func ValidateField(schema, field, value string) []string {
	errs := validate(schema, map[string]interface{}{field: value})
	if errs == nil {
		return nil
	}
	return errs.Fields[field]
}
