// Package mif builds snippets of OOMMF's MIF 2.1 problem description
// language: atlases, scalar and vector fields, and the parameter wrappers
// that turn a number, a per-region map or a field file into a MIF reference.
package mif

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Header opens every MIF 2.1 script.
const Header = "# MIF 2.1\n\n"

// DefaultAtlas is the atlas name parameters are bound to unless told
// otherwise.
const DefaultAtlas = "main_atlas"

// Vector is a point or a 3-component field value.
type Vector [3]float64

func (v Vector) String() string {
	return fmt.Sprintf("{%s %s %s}", num(v[0]), num(v[1]), num(v[2]))
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// BoxAtlas declares a rectangular region called name spanning pmin to pmax.
// The atlas itself is named "<name>_atlas".
func BoxAtlas(pmin, pmax Vector, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# BoxAtlas for %s_atlas\n", name)
	fmt.Fprintf(&b, "Specify Oxs_BoxAtlas:%s_atlas {\n", name)
	fmt.Fprintf(&b, "  xrange { %s %s }\n", num(pmin[0]), num(pmax[0]))
	fmt.Fprintf(&b, "  yrange { %s %s }\n", num(pmin[1]), num(pmax[1]))
	fmt.Fprintf(&b, "  zrange { %s %s }\n", num(pmin[2]), num(pmax[2]))
	fmt.Fprintf(&b, "  name %s\n", name)
	b.WriteString("}\n\n")
	return b.String()
}

// AtlasScalarField assigns a scalar per atlas region. values must hold a
// "default" entry, used for cells outside every named region.
func AtlasScalarField(name string, values map[string]float64, atlas string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", name)
	fmt.Fprintf(&b, "Specify Oxs_AtlasScalarField:%s {\n", name)
	fmt.Fprintf(&b, "  atlas :%s\n", atlas)
	fmt.Fprintf(&b, "  default_value %s\n", num(values["default"]))
	b.WriteString("  values {\n")
	for _, region := range regions(values) {
		fmt.Fprintf(&b, "    %s %s\n", region, num(values[region]))
	}
	b.WriteString("  }\n}\n\n")
	return b.String()
}

// AtlasVectorField assigns a vector per atlas region, like AtlasScalarField.
func AtlasVectorField(name string, values map[string]Vector, atlas string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", name)
	fmt.Fprintf(&b, "Specify Oxs_AtlasVectorField:%s {\n", name)
	fmt.Fprintf(&b, "  atlas :%s\n", atlas)
	fmt.Fprintf(&b, "  default_value %s\n", values["default"])
	b.WriteString("  values {\n")
	for _, region := range regions(values) {
		fmt.Fprintf(&b, "    %s %s\n", region, values[region])
	}
	b.WriteString("  }\n}\n\n")
	return b.String()
}

// FileVectorField reads a vector field from an OVF file in the job
// directory.
func FileVectorField(filename, name, atlas string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s file\n", name)
	fmt.Fprintf(&b, "Specify Oxs_FileVectorField:%s {\n", name)
	fmt.Fprintf(&b, "  file %s\n", filename)
	fmt.Fprintf(&b, "  atlas :%s\n", atlas)
	b.WriteString("}\n\n")
	return b.String()
}

// VecMagScalarField is the pointwise norm of another vector field.
func VecMagScalarField(field, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", name)
	fmt.Fprintf(&b, "Specify Oxs_VecMagScalarField:%s {\n", name)
	fmt.Fprintf(&b, "  field :%s\n", field)
	b.WriteString("}\n\n")
	return b.String()
}

// regions returns the non-default keys in sorted order.
func regions[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "default" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
