package binding

import (
	"path/filepath"
	"testing"

	"github.com/woxQAQ/jsbridge/internal/encode"
)

func loadValid(t *testing.T) *Table {
	t.Helper()
	m, err := ParseManifest(filepath.Join("testdata", "valid"))
	if err != nil {
		t.Fatalf("ParseManifest() failed: %v", err)
	}
	table, err := TableFromManifest(m)
	if err != nil {
		t.Fatalf("TableFromManifest() failed: %v", err)
	}
	return table
}

func TestTableFromManifest(t *testing.T) {
	table := loadValid(t)

	if table.Len() != 4 {
		t.Fatalf("expected 4 functions, got %d", table.Len())
	}

	add, ok := table.ByName("add")
	if !ok {
		t.Fatal("add not found by name")
	}
	if add.ID != 1 || add.Binding != "sample" {
		t.Errorf("unexpected add: id=%d binding=%s", add.ID, add.Binding)
	}
	if add.Signature() != "(u32,u32)->u32" {
		t.Errorf("unexpected signature: %s", add.Signature())
	}

	greet, ok := table.ByID(3)
	if !ok {
		t.Fatal("greet not found by id")
	}
	if greet.Source != "(name) => \"hello \" + name\n" {
		t.Errorf("js_file not loaded: %q", greet.Source)
	}

	log, _ := table.ByName("log")
	if log.Returns.Kind != encode.KindUnit {
		t.Errorf("expected unit return, got %s", log.Returns)
	}

	obj, _ := table.ByName("object")
	if obj.Returns.NeedsFlush() {
		t.Error("ref return must not need a flush")
	}
}

func TestTable_FunctionsOrdered(t *testing.T) {
	fns := loadValid(t).Functions()
	for i := 1; i < len(fns); i++ {
		if fns[i-1].ID >= fns[i].ID {
			t.Fatalf("functions not ordered by id: %d before %d", fns[i-1].ID, fns[i].ID)
		}
	}
}

func TestMerge_Duplicate(t *testing.T) {
	a := loadValid(t)
	b := NewTable()
	if err := b.Add(&Function{ID: 100, Name: "add", Returns: encode.Scalar(encode.KindUnit)}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	_, err := Merge(a, b)
	if err == nil {
		t.Fatal("Merge() should reject a duplicate name")
	}
	if _, ok := err.(*DuplicateFunctionError); !ok {
		t.Errorf("expected DuplicateFunctionError, got %T", err)
	}

	c := NewTable()
	_ = c.Add(&Function{ID: 100, Name: "extra", Returns: encode.Scalar(encode.KindUnit)})
	merged, err := Merge(a, c)
	if err != nil {
		t.Fatalf("Merge() failed: %v", err)
	}
	if merged.Len() != 5 {
		t.Errorf("expected 5 functions, got %d", merged.Len())
	}
}
