package binding

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseManifest_Valid(t *testing.T) {
	dir := filepath.Join("testdata", "valid")

	manifest, err := ParseManifest(dir)
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}

	if manifest.Name != "sample" {
		t.Errorf("expected Name 'sample', got '%s'", manifest.Name)
	}

	if manifest.Version != "1.0.0" {
		t.Errorf("expected Version '1.0.0', got '%s'", manifest.Version)
	}

	if len(manifest.Functions) != 4 {
		t.Fatalf("expected 4 functions, got %d", len(manifest.Functions))
	}

	if manifest.Functions[2].JSFile != "greet.js" {
		t.Errorf("expected js_file 'greet.js', got '%s'", manifest.Functions[2].JSFile)
	}

	if manifest.Functions[3].returns() != "unit" {
		t.Errorf("expected missing returns to default to unit, got '%s'", manifest.Functions[3].returns())
	}
}

func TestParseManifest_NotFound(t *testing.T) {
	dir := filepath.Join("testdata", "nonexistent")

	_, err := ParseManifest(dir)
	if err == nil {
		t.Fatal("ParseManifest() should fail for nonexistent directory")
	}

	var notFound *ManifestNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected ManifestNotFoundError, got %T", err)
	}
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	_, err := ParseManifest(filepath.Join("testdata", "invalid-yaml"))
	if err == nil {
		t.Fatal("ParseManifest() should fail for invalid YAML")
	}

	if _, ok := err.(*ManifestParseError); !ok {
		t.Errorf("expected ManifestParseError, got %T", err)
	}
}

func TestParseManifest_ValidationErrors(t *testing.T) {
	tests := []struct {
		dir   string
		field string
	}{
		{"missing-fields", "version"},
		{"duplicate-ids", "functions[1].id"},
		{"reserved-id", "functions[0].id"},
		{"bad-type", "functions[0].args[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			_, err := ParseManifest(filepath.Join("testdata", tt.dir))
			if err == nil {
				t.Fatal("ParseManifest() should fail")
			}

			valErr, ok := err.(*ManifestValidationError)
			if !ok {
				t.Fatalf("expected ManifestValidationError, got %T: %v", err, err)
			}
			if valErr.Field != tt.field {
				t.Errorf("expected field '%s', got '%s'", tt.field, valErr.Field)
			}
		})
	}
}

func TestParseManifest_MissingSource(t *testing.T) {
	_, err := ParseManifest(filepath.Join("testdata", "missing-source"))
	if err == nil {
		t.Fatal("ParseManifest() should fail for a missing js_file")
	}

	srcErr, ok := err.(*SourceNotFoundError)
	if !ok {
		t.Fatalf("expected SourceNotFoundError, got %T", err)
	}
	if srcErr.Function != "ghost" {
		t.Errorf("expected function 'ghost', got '%s'", srcErr.Function)
	}
}

func TestParseManifestBytes_SignatureRules(t *testing.T) {
	tests := []struct {
		name    string
		fn      string
		wantErr bool
	}{
		{"callback argument", "args: [\"callback(u32)->u32\"]", false},
		{"option return", "returns: option<ref>", false},
		{"result argument", "args: [result<u32>]", true},
		{"unit argument", "args: [unit]", true},
		{"callback return", "returns: callback()", true},
		{"both sources", "js_file: other.js", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Join([]string{
				"name: inline",
				"version: 0.0.1",
				"functions:",
				"  - id: 1",
				"    name: f",
				"    js: \"() => {}\"",
				"    " + tt.fn,
			}, "\n")

			_, err := ParseManifestBytes([]byte(doc), t.TempDir())
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestManifest_Paths(t *testing.T) {
	m := &Manifest{dir: "/bindings/demo"}
	f := &FunctionSpec{JSFile: "lib/f.js"}

	if m.Path() != filepath.Join("/bindings/demo", "manifest.yaml") {
		t.Errorf("unexpected Path: %s", m.Path())
	}
	if m.SourcePath(f) != filepath.Join("/bindings/demo", "lib/f.js") {
		t.Errorf("unexpected SourcePath: %s", m.SourcePath(f))
	}
	if m.Dir() != "/bindings/demo" {
		t.Errorf("unexpected Dir: %s", m.Dir())
	}
}
