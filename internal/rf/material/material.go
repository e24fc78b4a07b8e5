// Package material maps mesh surfaces to electromagnetic material properties.
package material

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownMaterial is returned when a mapping or default names a
	// material that is neither built in nor supplied.
	ErrUnknownMaterial = errors.New("unknown material")
	// ErrInvalidMaterial is returned for out-of-range material properties.
	ErrInvalidMaterial = errors.New("invalid material")
)

// Material describes how a surface reflects and absorbs a ray.
type Material struct {
	Name string `json:"name"`
	// ReflectionCoefficient is the amplitude fraction reflected, in [0,1].
	ReflectionCoefficient float64 `json:"reflection_coefficient"`
	// AbsorptionDB is the loss for a ray passing through the surface.
	AbsorptionDB float64 `json:"absorption_db"`
}

func (m Material) validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMaterial)
	}
	if m.ReflectionCoefficient < 0 || m.ReflectionCoefficient > 1 || m.ReflectionCoefficient != m.ReflectionCoefficient {
		return fmt.Errorf("%w: %s reflection coefficient %v outside [0,1]", ErrInvalidMaterial, m.Name, m.ReflectionCoefficient)
	}
	if m.AbsorptionDB < 0 || m.AbsorptionDB != m.AbsorptionDB {
		return fmt.Errorf("%w: %s absorption %v dB is negative", ErrInvalidMaterial, m.Name, m.AbsorptionDB)
	}
	return nil
}

// DefaultMaterial is used for surfaces without an explicit mapping.
const DefaultMaterial = "concrete"

// Presets returns the built-in materials keyed by name.
func Presets() map[string]Material {
	return map[string]Material{
		"concrete": {Name: "concrete", ReflectionCoefficient: 0.3, AbsorptionDB: 10},
		"brick":    {Name: "brick", ReflectionCoefficient: 0.4, AbsorptionDB: 8},
		"wood":     {Name: "wood", ReflectionCoefficient: 0.5, AbsorptionDB: 4},
		"glass":    {Name: "glass", ReflectionCoefficient: 0.7, AbsorptionDB: 2},
		"metal":    {Name: "metal", ReflectionCoefficient: 0.9, AbsorptionDB: 0},
	}
}

// Table resolves surface indices to materials. It is immutable after
// NewTable and safe for concurrent reads.
type Table struct {
	materials map[string]Material
	mapping   map[int]string
	fallback  Material
}

// NewTable merges custom materials over the presets and checks that the
// default and every mapped name resolve. An empty defaultName selects
// DefaultMaterial.
func NewTable(custom []Material, mapping map[int]string, defaultName string) (*Table, error) {
	mats := Presets()
	for _, m := range custom {
		if err := m.validate(); err != nil {
			return nil, err
		}
		mats[m.Name] = m
	}
	if defaultName == "" {
		defaultName = DefaultMaterial
	}
	fallback, ok := mats[defaultName]
	if !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownMaterial, defaultName)
	}
	mp := make(map[int]string, len(mapping))
	for id, name := range mapping {
		if _, ok := mats[name]; !ok {
			return nil, fmt.Errorf("%w: %q mapped to surface %d", ErrUnknownMaterial, name, id)
		}
		mp[id] = name
	}
	return &Table{materials: mats, mapping: mp, fallback: fallback}, nil
}

// MustDefaultTable returns a table with presets only. It panics on error and
// is meant for tests and tools.
func MustDefaultTable() *Table {
	t, err := NewTable(nil, nil, "")
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the material of a surface, or the default when the
// surface has no mapping.
func (t *Table) Resolve(surface int) Material {
	if name, ok := t.mapping[surface]; ok {
		return t.materials[name]
	}
	return t.fallback
}

// Lookup returns a material by name.
func (t *Table) Lookup(name string) (Material, bool) {
	m, ok := t.materials[name]
	return m, ok
}

// Default returns the fallback material.
func (t *Table) Default() Material { return t.fallback }

// Names lists the known material names in sorted order.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.materials))
	for n := range t.materials {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
