package mif

import (
	"fmt"
	"strings"
)

// MacrospinBasename is the output basename used by Macrospin.
const MacrospinBasename = "example-macrospin"

// Macrospin returns a complete script for a single 5 nm cubic cell
// precessing in a uniform Zeeman field. It runs for stoppingTime seconds in
// one stage and is mostly useful for measuring the fixed cost of launching
// OOMMF.
func Macrospin(stoppingTime float64) string {
	var b strings.Builder
	b.WriteString(Header)

	edge := 5e-9
	b.WriteString(BoxAtlas(Vector{0, 0, 0}, Vector{edge, edge, edge}, "main"))

	b.WriteString("Specify Oxs_RectangularMesh:mesh {\n")
	fmt.Fprintf(&b, "  cellsize %s\n", Vector{edge, edge, edge})
	fmt.Fprintf(&b, "  atlas :%s\n", DefaultAtlas)
	b.WriteString("}\n\n")

	_, field := VectorConst{0, 0, 1e6}.Setup("H")
	b.WriteString("Specify Oxs_FixedZeeman:zeeman {\n")
	fmt.Fprintf(&b, "  field %s\n", field)
	b.WriteString("}\n\n")

	b.WriteString("Specify Oxs_RungeKuttaEvolve:evolver {\n")
	b.WriteString("  gamma_G 221100\n")
	b.WriteString("  alpha 0.008\n")
	b.WriteString("  do_precess 1\n")
	b.WriteString("}\n\n")

	_, m0 := VectorConst{1, 0, 0}.Setup("m0")
	_, ms := ScalarConst(8e6).Setup("Ms")
	b.WriteString("Specify Oxs_TimeDriver {\n")
	b.WriteString("  evolver :evolver\n")
	b.WriteString("  mesh :mesh\n")
	fmt.Fprintf(&b, "  Ms %s\n", ms)
	fmt.Fprintf(&b, "  m0 %s\n", m0)
	fmt.Fprintf(&b, "  stopping_time %s\n", num(stoppingTime))
	b.WriteString("  stage_count 1\n")
	fmt.Fprintf(&b, "  basename %s\n", MacrospinBasename)
	b.WriteString("}\n\n")

	b.WriteString("Destination table mmArchive\n")
	b.WriteString("Schedule DataTable table Stage 1\n")
	return b.String()
}
