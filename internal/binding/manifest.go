// Package binding loads the table of script functions the native side may call.
//
// Each binding directory holds a manifest.yaml naming its functions, their
// numeric ids, their signatures, and the JavaScript that implements them.
package binding

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/jsbridge/internal/encode"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// Manifest represents the binding manifest.yaml structure.
type Manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Functions   []FunctionSpec `yaml:"functions"`

	// Internal fields
	dir string // Directory containing manifest
}

// FunctionSpec declares one script function.
type FunctionSpec struct {
	ID      uint32   `yaml:"id"`
	Name    string   `yaml:"name"`
	JS      string   `yaml:"js"`
	JSFile  string   `yaml:"js_file"`
	Args    []string `yaml:"args"`
	Returns string   `yaml:"returns"` // defaults to unit
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, "manifest.yaml")

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	return ParseManifestBytes(data, dir)
}

// ParseManifestBytes parses manifest content as if it were read from dir.
func ParseManifestBytes(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: filepath.Join(dir, "manifest.yaml"),
			Err:  err,
		}
	}

	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return m.invalid("name", "name is required")
	}

	if m.Version == "" {
		return m.invalid("version", "version is required")
	}

	if len(m.Functions) == 0 {
		return m.invalid("functions", "at least one function is required")
	}

	ids := make(map[uint32]string, len(m.Functions))
	names := make(map[string]bool, len(m.Functions))
	for i := range m.Functions {
		f := &m.Functions[i]
		field := fmt.Sprintf("functions[%d]", i)

		if f.Name == "" {
			return m.invalid(field+".name", "name is required")
		}
		if names[f.Name] {
			return m.invalid(field+".name", fmt.Sprintf("duplicate function name: %s", f.Name))
		}
		names[f.Name] = true

		if protocol.IsReservedFunctionID(f.ID) {
			return m.invalid(field+".id", fmt.Sprintf("id %d is reserved (must be below %d)", f.ID, protocol.FnReservedBase))
		}
		if other, dup := ids[f.ID]; dup {
			return m.invalid(field+".id", fmt.Sprintf("id %d already used by %s", f.ID, other))
		}
		ids[f.ID] = f.Name

		if err := m.validateSignature(f, field); err != nil {
			return err
		}

		switch {
		case f.JS == "" && f.JSFile == "":
			return m.invalid(field, "one of js or js_file is required")
		case f.JS != "" && f.JSFile != "":
			return m.invalid(field, "js and js_file are mutually exclusive")
		case f.JSFile != "":
			if _, err := os.Stat(m.SourcePath(f)); os.IsNotExist(err) {
				return &SourceNotFoundError{
					ManifestPath: m.Path(),
					Function:     f.Name,
					File:         f.JSFile,
				}
			}
		}
	}

	return nil
}

func (m *Manifest) validateSignature(f *FunctionSpec, field string) error {
	for j, arg := range f.Args {
		typ, err := encode.ParseType(arg)
		if err != nil {
			return m.invalid(fmt.Sprintf("%s.args[%d]", field, j), err.Error())
		}
		if typ.Kind == encode.KindResult || typ.Kind == encode.KindUnit {
			return m.invalid(fmt.Sprintf("%s.args[%d]", field, j), fmt.Sprintf("%s is not a valid argument type", typ))
		}
	}

	typ, err := encode.ParseType(f.returns())
	if err != nil {
		return m.invalid(field+".returns", err.Error())
	}
	if typ.Kind == encode.KindCallback {
		return m.invalid(field+".returns", "callbacks cannot be returned to native code")
	}
	return nil
}

func (m *Manifest) invalid(field, msg string) error {
	return &ManifestValidationError{
		Path:    m.Path(),
		Field:   field,
		Message: msg,
	}
}

func (f *FunctionSpec) returns() string {
	if f.Returns == "" {
		return "unit"
	}
	return f.Returns
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, "manifest.yaml")
}

// SourcePath returns the path to the script file of f.
func (m *Manifest) SourcePath(f *FunctionSpec) string {
	return filepath.Join(m.dir, f.JSFile)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
