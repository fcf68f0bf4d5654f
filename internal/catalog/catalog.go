// Package catalog holds the provider descriptor table: the static list of
// (provider, model) pairs the dispatcher may use, in discovery order.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"genrelay/internal/domain"
)

//go:embed descriptors.yaml
var defaultTable []byte

// Table is an immutable, versioned list of descriptors. The zero value is
// an empty table.
type Table struct {
	version     int
	descriptors []domain.ProviderDescriptor
	index       map[domain.DescriptorKey]int
}

type tableFile struct {
	Version   int                         `yaml:"version"`
	Providers []domain.ProviderDescriptor `yaml:"providers"`
}

// Default returns the table compiled into the binary.
func Default() (Table, error) {
	return Parse(defaultTable)
}

// Load reads a table from a YAML file.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("%w: read descriptor table %s: %v", domain.ErrConfigLoad, path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return Table{}, fmt.Errorf("descriptor table %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a YAML table. Unknown fields are rejected so
// typos surface at startup.
func Parse(data []byte) (Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Table{}, domain.NewDomainError("catalog.Parse", domain.ErrConfiguration, err.Error())
	}
	return New(f.Version, f.Providers)
}

// New builds a table from descriptors, checking that every (provider, model)
// pair is unique and every kind and task is known.
func New(version int, descs []domain.ProviderDescriptor) (Table, error) {
	t := Table{
		version:     version,
		descriptors: make([]domain.ProviderDescriptor, 0, len(descs)),
		index:       make(map[domain.DescriptorKey]int, len(descs)),
	}
	for i, d := range descs {
		if d.Provider == "" || d.Model == "" {
			return Table{}, domain.NewDomainError("catalog.New", domain.ErrConfiguration,
				fmt.Sprintf("entry %d: provider and model are required", i))
		}
		if !d.Kind.Valid() {
			return Table{}, domain.NewDomainError("catalog.New", domain.ErrConfiguration,
				fmt.Sprintf("%s: unknown kind %q", d.Key(), d.Kind))
		}
		for _, task := range d.Tasks {
			if !task.Valid() {
				return Table{}, domain.NewDomainError("catalog.New", domain.ErrConfiguration,
					fmt.Sprintf("%s: unknown task kind %q", d.Key(), task))
			}
		}
		if _, dup := t.index[d.Key()]; dup {
			return Table{}, domain.NewDomainError("catalog.New", domain.ErrConfiguration,
				fmt.Sprintf("duplicate descriptor %s", d.Key()))
		}
		d.Tasks = slices.Clone(d.Tasks)
		t.index[d.Key()] = len(t.descriptors)
		t.descriptors = append(t.descriptors, d)
	}
	return t, nil
}

// Version returns the table's schema version.
func (t Table) Version() int { return t.version }

// Len returns the number of descriptors.
func (t Table) Len() int { return len(t.descriptors) }

// Descriptors returns a copy of the descriptors in table order.
func (t Table) Descriptors() []domain.ProviderDescriptor {
	out := make([]domain.ProviderDescriptor, len(t.descriptors))
	for i, d := range t.descriptors {
		d.Tasks = slices.Clone(d.Tasks)
		out[i] = d
	}
	return out
}

// Lookup finds a descriptor by key.
func (t Table) Lookup(key domain.DescriptorKey) (domain.ProviderDescriptor, bool) {
	i, ok := t.index[key]
	if !ok {
		return domain.ProviderDescriptor{}, false
	}
	d := t.descriptors[i]
	d.Tasks = slices.Clone(d.Tasks)
	return d, true
}

// Resolve looks up a "provider/model" reference.
func (t Table) Resolve(ref string) (domain.ProviderDescriptor, error) {
	key, err := domain.ParseDescriptorKey(ref)
	if err != nil {
		return domain.ProviderDescriptor{}, err
	}
	d, ok := t.Lookup(key)
	if !ok {
		return domain.ProviderDescriptor{}, domain.NewDomainError("catalog.Resolve", domain.ErrConfiguration,
			fmt.Sprintf("%s is not in the descriptor table", key))
	}
	return d, nil
}

// WithCredentialEnv returns a copy of the table in which every descriptor of
// a listed provider reads its credential from the given variable instead.
func (t Table) WithCredentialEnv(overrides map[string]string) Table {
	if len(overrides) == 0 {
		return t
	}
	descs := t.Descriptors()
	for i := range descs {
		if env, ok := overrides[descs[i].Provider]; ok && env != "" {
			descs[i].CredentialEnv = env
		}
	}
	// Keys are unchanged, so validation cannot fail.
	out, _ := New(t.version, descs)
	return out
}

// Merge returns a table holding t's descriptors followed by any descriptor
// of extra whose key t does not already have.
func (t Table) Merge(extra Table) Table {
	descs := t.Descriptors()
	for _, d := range extra.Descriptors() {
		if _, ok := t.index[d.Key()]; !ok {
			descs = append(descs, d)
		}
	}
	out, _ := New(max(t.version, extra.version), descs)
	return out
}
