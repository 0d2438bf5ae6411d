package mif

import (
	"strings"
	"testing"
)

func TestBoxAtlas(t *testing.T) {
	got := BoxAtlas(Vector{0, 0, 0}, Vector{1e-8, 5e-9, 2.5e-9}, "main")
	want := "# BoxAtlas for main_atlas\n" +
		"Specify Oxs_BoxAtlas:main_atlas {\n" +
		"  xrange { 0 1e-08 }\n" +
		"  yrange { 0 5e-09 }\n" +
		"  zrange { 0 2.5e-09 }\n" +
		"  name main\n" +
		"}\n\n"
	if got != want {
		t.Errorf("BoxAtlas() =\n%s\nwant\n%s", got, want)
	}
}

func TestScalarParameter(t *testing.T) {
	tests := []struct {
		name    string
		param   ScalarParameter
		wantRef string
		wantMIF []string
	}{
		{
			name:    "constant",
			param:   ScalarConst(8e5),
			wantRef: "800000",
		},
		{
			name:    "regions without default",
			param:   ScalarRegions{"r2": 2, "r1": 1.5},
			wantRef: "Ms",
			wantMIF: []string{
				"Specify Oxs_AtlasScalarField:Ms {",
				"  default_value 0\n",
				"    r1 1.5\n    r2 2\n",
			},
		},
		{
			name:    "regions with default",
			param:   ScalarRegions{"default": 7, "r1": 1},
			wantRef: "Ms",
			wantMIF: []string{"  default_value 7\n", "    r1 1\n  }\n}"},
		},
		{
			name:    "file",
			param:   ScalarFile("Ms.ovf"),
			wantRef: "Ms_norm",
			wantMIF: []string{
				"Specify Oxs_FileVectorField:Ms {\n  file Ms.ovf\n  atlas :main_atlas\n}",
				"Specify Oxs_VecMagScalarField:Ms_norm {\n  field :Ms\n}",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mif, ref := tt.param.Setup("Ms")
			if ref != tt.wantRef {
				t.Errorf("ref = %q, want %q", ref, tt.wantRef)
			}
			if len(tt.wantMIF) == 0 && mif != "" {
				t.Errorf("Expected no declaration, got %q", mif)
			}
			for _, part := range tt.wantMIF {
				if !strings.Contains(mif, part) {
					t.Errorf("MIF missing %q:\n%s", part, mif)
				}
			}
		})
	}
}

func TestVectorParameter(t *testing.T) {
	tests := []struct {
		name    string
		param   VectorParameter
		wantRef string
		wantMIF []string
	}{
		{
			name:    "constant",
			param:   VectorConst{0, 0, 1e6},
			wantRef: "{0 0 1e+06}",
		},
		{
			name:    "regions",
			param:   VectorRegions{"top": {1, 0, 0}},
			wantRef: "H",
			wantMIF: []string{"  default_value {0 0 0}\n", "    top {1 0 0}\n"},
		},
		{
			name:    "file",
			param:   VectorFile("H.ovf"),
			wantRef: "H",
			wantMIF: []string{"Specify Oxs_FileVectorField:H {\n  file H.ovf\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mif, ref := tt.param.Setup("H")
			if ref != tt.wantRef {
				t.Errorf("ref = %q, want %q", ref, tt.wantRef)
			}
			if len(tt.wantMIF) == 0 && mif != "" {
				t.Errorf("Expected no declaration, got %q", mif)
			}
			for _, part := range tt.wantMIF {
				if !strings.Contains(mif, part) {
					t.Errorf("MIF missing %q:\n%s", part, mif)
				}
			}
		})
	}
}

func TestRegionMapDoesNotMutateInput(t *testing.T) {
	regions := ScalarRegions{"r1": 1}
	regions.Setup("A")
	if _, ok := regions["default"]; ok {
		t.Error("Setup added a default entry to the caller's map")
	}
}

func TestMacrospin(t *testing.T) {
	script := Macrospin(1e-12)
	if !strings.HasPrefix(script, Header) {
		t.Error("Expected MIF header")
	}
	for _, part := range []string{
		"Specify Oxs_BoxAtlas:main_atlas",
		"atlas :main_atlas",
		"field {0 0 1e+06}",
		"stopping_time 1e-12",
		"basename " + MacrospinBasename,
	} {
		if !strings.Contains(script, part) {
			t.Errorf("Macrospin script missing %q", part)
		}
	}
}

func TestSetupM0(t *testing.T) {
	mif, field, norm := SetupM0("m0.omf", "m0")
	if field != "m0" || norm != "m0_norm" {
		t.Errorf("Unexpected names %q, %q", field, norm)
	}
	for _, want := range []string{
		"Specify Oxs_FileVectorField:m0 {\n  file m0.omf\n  atlas :main_atlas\n}",
		"Specify Oxs_VecMagScalarField:m0_norm {\n  field :m0\n}",
	} {
		if !strings.Contains(mif, want) {
			t.Errorf("MIF missing %q:\n%s", want, mif)
		}
	}
	if strings.Index(mif, "Oxs_FileVectorField") > strings.Index(mif, "Oxs_VecMagScalarField") {
		t.Error("Expected the file field to be declared before its norm")
	}
}
