package mif

// ScalarParameter is a material parameter that is either a constant, a
// per-region map or a field file.
type ScalarParameter interface {
	// Setup returns the MIF that declares the parameter (possibly empty)
	// and the token to use where the parameter is referenced.
	Setup(name string) (mif, ref string)
}

// VectorParameter is the vector counterpart of ScalarParameter.
type VectorParameter interface {
	Setup(name string) (mif, ref string)
}

// ScalarConst is a uniform scalar. It needs no declaration.
type ScalarConst float64

func (s ScalarConst) Setup(name string) (string, string) {
	return "", num(float64(s))
}

// ScalarRegions maps atlas region names to values. A missing "default"
// entry is treated as 0.
type ScalarRegions map[string]float64

func (s ScalarRegions) Setup(name string) (string, string) {
	values := make(map[string]float64, len(s)+1)
	values["default"] = 0
	for k, v := range s {
		values[k] = v
	}
	return AtlasScalarField(name, values, DefaultAtlas), name
}

// ScalarFile is a scalar field stored as the first component of an OVF file
// in the job directory. The parameter refers to the field's norm.
type ScalarFile string

func (s ScalarFile) Setup(name string) (string, string) {
	mif, _, norm := SetupM0(string(s), name)
	return mif, norm
}

// VectorConst is a uniform vector.
type VectorConst Vector

func (v VectorConst) Setup(name string) (string, string) {
	return "", Vector(v).String()
}

// VectorRegions maps atlas region names to vectors. A missing "default"
// entry is treated as the zero vector.
type VectorRegions map[string]Vector

func (v VectorRegions) Setup(name string) (string, string) {
	values := make(map[string]Vector, len(v)+1)
	values["default"] = Vector{}
	for k, val := range v {
		values[k] = val
	}
	return AtlasVectorField(name, values, DefaultAtlas), name
}

// VectorFile is a vector field stored in an OVF file in the job directory.
type VectorFile string

func (v VectorFile) Setup(name string) (string, string) {
	return FileVectorField(string(v), name, DefaultAtlas), name
}

// SetupM0 declares an initial magnetisation read from an OVF file in the
// job directory. It returns the MIF, the field name to use as m0 and the
// name of its norm, which serves as a spatially varying Ms.
func SetupM0(filename, name string) (mif, field, norm string) {
	norm = name + "_norm"
	mif = FileVectorField(filename, name, DefaultAtlas) + VecMagScalarField(name, norm)
	return mif, name, norm
}
