package export

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/mod/semver"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// ErrIncompatibleVersion is returned for files written by a different
// major format version.
var ErrIncompatibleVersion = errors.New("incompatible format version")

// ValidationError reports a file that does not match its schema.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var schemaCache sync.Map

func compiledSchema(name string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	url := "schema://" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}

	schemaCache.Store(name, compiled)
	return compiled, nil
}

// validate checks data against the named schema and the format version.
func validate(name, path string, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationError{Path: path, Err: err}
	}

	if obj, ok := doc.(map[string]any); ok {
		if v, ok := obj["version"].(string); ok {
			if err := checkVersion(v); err != nil {
				return err
			}
		}
	}

	sch, err := compiledSchema(name)
	if err != nil {
		return err
	}
	if err := sch.Validate(doc); err != nil {
		return &ValidationError{Path: path, Err: err}
	}
	return nil
}

func checkVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrIncompatibleVersion, v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) {
		return fmt.Errorf("%w: file is %s, reader supports %s", ErrIncompatibleVersion, v, semver.Major(FormatVersion))
	}
	return nil
}

// LoadParams reads and validates a bkt_params.json file.
func LoadParams(path string) (*ParamsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validate("params", path, data); err != nil {
		return nil, err
	}
	var f ParamsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}
	return &f, nil
}

// LoadMastery reads and validates a mastery_scores.json file.
func LoadMastery(path string) (*MasteryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validate("mastery", path, data); err != nil {
		return nil, err
	}
	var f MasteryFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}
	return &f, nil
}
