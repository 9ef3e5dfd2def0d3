package binding

import (
	"fmt"
)

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// SourceNotFoundError occurs when the js_file referenced by a function doesn't exist.
type SourceNotFoundError struct {
	ManifestPath string
	Function     string
	File         string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source file '%s' for function '%s' not found (referenced in manifest '%s')",
		e.File, e.Function, e.ManifestPath)
}

// DuplicateFunctionError occurs when two tables define the same function id or name.
type DuplicateFunctionError struct {
	Name string
	ID   uint32
}

func (e *DuplicateFunctionError) Error() string {
	return fmt.Sprintf("function '%s' (id %d) is defined more than once", e.Name, e.ID)
}

// TableAlreadyRegisteredError occurs when attempting to register a duplicate table.
type TableAlreadyRegisteredError struct {
	Name string
}

func (e *TableAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("binding table '%s' is already registered", e.Name)
}

// FunctionNotFoundError occurs when a function is not present in a table.
type FunctionNotFoundError struct {
	Name string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("function '%s' not found", e.Name)
}

// NoBindingsFoundError occurs when no manifests are found in the configured paths.
type NoBindingsFoundError struct {
	Paths []string
}

func (e *NoBindingsFoundError) Error() string {
	return fmt.Sprintf("no bindings found in paths: %v", e.Paths)
}
