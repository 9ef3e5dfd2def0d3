package binding

import (
	"fmt"
	"os"
	"sort"

	"github.com/woxQAQ/jsbridge/internal/encode"
)

// Function is a resolved script function: its id, signature and source.
type Function struct {
	ID      uint32
	Name    string
	Source  string
	Args    []*encode.Type
	Returns *encode.Type

	// Binding is the name of the manifest the function came from.
	Binding string
}

// Signature renders the function type, e.g. "(u32,ref)->string".
func (f *Function) Signature() string {
	return encode.CallbackOf(f.Returns, f.Args...).String()[len("callback"):]
}

// Table indexes functions by id and by name.
type Table struct {
	byID   map[uint32]*Function
	byName map[string]*Function
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byID:   make(map[uint32]*Function),
		byName: make(map[string]*Function),
	}
}

// TableFromManifest resolves every function in m, reading script files as needed.
func TableFromManifest(m *Manifest) (*Table, error) {
	t := NewTable()
	for i := range m.Functions {
		spec := &m.Functions[i]

		src := spec.JS
		if spec.JSFile != "" {
			data, err := os.ReadFile(m.SourcePath(spec))
			if err != nil {
				return nil, &SourceNotFoundError{
					ManifestPath: m.Path(),
					Function:     spec.Name,
					File:         spec.JSFile,
				}
			}
			src = string(data)
		}

		f := &Function{
			ID:      spec.ID,
			Name:    spec.Name,
			Source:  src,
			Binding: m.Name,
		}
		for _, arg := range spec.Args {
			typ, err := encode.ParseType(arg)
			if err != nil {
				return nil, fmt.Errorf("function %s: %w", spec.Name, err)
			}
			f.Args = append(f.Args, typ)
		}
		ret, err := encode.ParseType(spec.returns())
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", spec.Name, err)
		}
		f.Returns = ret

		if err := t.Add(f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add inserts f. Ids and names must be unique within the table.
func (t *Table) Add(f *Function) error {
	if _, ok := t.byID[f.ID]; ok {
		return &DuplicateFunctionError{Name: f.Name, ID: f.ID}
	}
	if _, ok := t.byName[f.Name]; ok {
		return &DuplicateFunctionError{Name: f.Name, ID: f.ID}
	}
	t.byID[f.ID] = f
	t.byName[f.Name] = f
	return nil
}

// ByID looks up a function by its wire id.
func (t *Table) ByID(id uint32) (*Function, bool) {
	f, ok := t.byID[id]
	return f, ok
}

// ByName looks up a function by name.
func (t *Table) ByName(name string) (*Function, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// Functions returns every function ordered by id.
func (t *Table) Functions() []*Function {
	result := make([]*Function, 0, len(t.byID))
	for _, f := range t.byID {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of functions.
func (t *Table) Len() int {
	return len(t.byID)
}

// Merge combines tables into one. Ids and names must not collide.
func Merge(tables ...*Table) (*Table, error) {
	merged := NewTable()
	for _, t := range tables {
		for _, f := range t.Functions() {
			if err := merged.Add(f); err != nil {
				return nil, err
			}
		}
	}
	return merged, nil
}
