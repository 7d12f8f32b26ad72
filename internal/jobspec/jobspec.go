// Package jobspec validates job definitions arriving as JSON (dashboard)
// or YAML (import files) against the job schema.
package jobspec

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"PageHarvester/internal/domain"
)

//go:embed job.schema.json
var jobSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func jobSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("job.schema.json", bytes.NewReader(jobSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("job.schema.json")
	})
	return schema, schemaErr
}

// Validate checks a decoded JSON value against the job schema.
func Validate(v any) error {
	s, err := jobSchema()
	if err != nil {
		return fmt.Errorf("compile job schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return domain.NewError(domain.KindConfig, "job does not match schema: "+flatten(err), err)
	}
	return nil
}

// DecodeJSON validates raw job JSON and returns the job with defaults applied.
func DecodeJSON(data []byte) (domain.Job, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return domain.Job{}, domain.NewError(domain.KindConfig, "job is not valid json", err)
	}
	return decodeValue(v, data)
}

func decodeValue(v any, raw []byte) (domain.Job, error) {
	if err := Validate(v); err != nil {
		return domain.Job{}, err
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return domain.Job{}, domain.NewError(domain.KindConfig, "decode job", err)
	}
	job.ApplyDefaults()
	if err := job.Validate(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

// flatten turns a schema validation tree into one line.
func flatten(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
