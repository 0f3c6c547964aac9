package mapping

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestFieldSpec_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want FieldSpec
	}{
		{
			name: "bare column reference",
			in:   `"NOMBRE"`,
			want: FieldSpec{Source: "NOMBRE", Transform: TransformDirect},
		},
		{
			name: "transform spec",
			in:   `{"source":"first_name","transform":"upper"}`,
			want: FieldSpec{Source: "first_name", Transform: TransformUpper},
		},
		{
			name: "transform spec defaults to direct",
			in:   `{"source":"COD"}`,
			want: FieldSpec{Source: "COD", Transform: TransformDirect},
		},
		{
			name: "integer literal",
			in:   `16`,
			want: FieldSpec{Literal: int64(16), IsLiteral: true},
		},
		{
			name: "bool literal",
			in:   `true`,
			want: FieldSpec{Literal: true, IsLiteral: true},
		},
		{
			name: "float literal stays float",
			in:   `1.5`,
			want: FieldSpec{Literal: 1.5, IsLiteral: true},
		},
		{
			name: "integral literal beyond int64 stays float",
			in:   `1e20`,
			want: FieldSpec{Literal: 1e20, IsLiteral: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FieldSpec
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFieldSpec_RejectsMalformedObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "transform without source", in: `{"transform":"upper"}`},
		{name: "empty source", in: `{"source":"","transform":"upper"}`},
		{name: "empty object", in: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FieldSpec
			err := json.Unmarshal([]byte(tt.in), &got)
			if err == nil {
				t.Fatalf("Unmarshal(%s) = %+v, want error", tt.in, got)
			}
			if got.IsLiteral {
				t.Errorf("Unmarshal(%s) bound a literal: %+v", tt.in, got)
			}
		})
	}
}

func TestFieldSpec_YAMLRejectsMalformedObject(t *testing.T) {
	var fm FieldMap
	err := yaml.Unmarshal([]byte("name:\n  transform: upper\n"), &fm)
	if err == nil {
		t.Fatalf("Unmarshal = %+v, want error", fm)
	}
}

func TestFieldSpec_MarshalRoundTrip(t *testing.T) {
	raw := `{"id":16,"name":{"source":"first_name","transform":"upper"},"plain":"NOMBRE"}`

	var fm FieldMap
	if err := json.Unmarshal([]byte(raw), &fm); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}

	out, err := json.Marshal(fm)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}

	var back FieldMap
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatalf("Unmarshal round trip error = %v", err)
	}
	for target, spec := range fm {
		if back[target] != spec {
			t.Errorf("round trip changed %q: %+v -> %+v", target, spec, back[target])
		}
	}
}

func TestCompile(t *testing.T) {
	cfg := &Config{
		ClientCode: "CLIENTE_REMESA",
		Version:    2,
		FieldMap: FieldMap{
			"nombre":    {Source: "NOMBRE", Transform: TransformUpper},
			"documento": {Literal: int64(1), IsLiteral: true},
			"cc":        {Source: "NIT", Transform: TransformDirect},
		},
		Rules: Rules{"nombre": {Required: true}},
	}

	compiled, err := Compile(cfg)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	if len(compiled.Ops) != 3 {
		t.Fatalf("len(Ops) = %d, want 3", len(compiled.Ops))
	}

	// Ops are sorted by target for deterministic output.
	wantOrder := []string{"cc", "documento", "nombre"}
	for i, want := range wantOrder {
		if compiled.Ops[i].Target != want {
			t.Errorf("Ops[%d].Target = %q, want %q", i, compiled.Ops[i].Target, want)
		}
	}

	for _, op := range compiled.Ops {
		switch op.Target {
		case "cc":
			if op.Kind != OpCopy || op.Source != "NIT" {
				t.Errorf("cc op = %+v, want copy of NIT", op)
			}
		case "documento":
			if op.Kind != OpLiteral || op.Literal != int64(1) {
				t.Errorf("documento op = %+v, want literal 1", op)
			}
		case "nombre":
			if op.Kind != OpTransform || op.Fn == nil {
				t.Fatalf("nombre op = %+v, want transform with fn", op)
			}
			if got := op.Fn("ana maría"); got != "ANA MARÍA" {
				t.Errorf("upper fn = %q, want %q", got, "ANA MARÍA")
			}
		}
	}
}

func TestCompile_UnknownTransform(t *testing.T) {
	cfg := &Config{
		ClientCode: "X",
		FieldMap: FieldMap{
			"name": {Source: "NOMBRE", Transform: Transform("reverse")},
		},
	}

	if _, err := Compile(cfg); err == nil {
		t.Fatal("Compile() expected error for unknown transform")
	}
}

func TestCompile_EmptySource(t *testing.T) {
	cfg := &Config{
		ClientCode: "X",
		FieldMap: FieldMap{
			"name": {Source: "", Transform: TransformUpper},
		},
	}

	if _, err := Compile(cfg); err == nil {
		t.Fatal("Compile() expected error for empty source")
	}
}

func TestTransformFuncs(t *testing.T) {
	tests := []struct {
		transform Transform
		in        string
		want      string
	}{
		{TransformDirect, "  MiXeD  ", "  MiXeD  "},
		{TransformUpper, "ana", "ANA"},
		{TransformUpper, "señor pérez", "SEÑOR PÉREZ"},
		{TransformLower, "BOGOTÁ", "bogotá"},
		{TransformStrip, "  calle 123  ", "calle 123"},
	}

	for _, tt := range tests {
		t.Run(string(tt.transform), func(t *testing.T) {
			fn, err := transformFunc(tt.transform)
			if err != nil {
				t.Fatalf("transformFunc(%q) error = %v", tt.transform, err)
			}
			if got := fn(tt.in); got != tt.want {
				t.Errorf("%s(%q) = %q, want %q", tt.transform, tt.in, got, tt.want)
			}
		})
	}
}
