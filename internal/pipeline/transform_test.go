package pipeline

import (
	"reflect"
	"testing"

	"filebridge/internal/mapping"
	"filebridge/internal/source"
)

func compileMap(t *testing.T, fm mapping.FieldMap, rules mapping.Rules) *mapping.Compiled {
	t.Helper()
	compiled, err := mapping.Compile(&mapping.Config{
		ClientCode: "CLIENTE_TEST",
		Version:    1,
		FieldMap:   fm,
		Rules:      rules,
	})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return compiled
}

func TestTransform(t *testing.T) {
	m := compileMap(t, mapping.FieldMap{
		"name": {Source: "first_name", Transform: mapping.TransformUpper},
		"id":   {Literal: int64(16), IsLiteral: true},
	}, nil)

	got, terr := Transform(source.Row{"first_name": "ana", "ignored": "x"}, m)
	if terr != nil {
		t.Fatalf("Transform() error = %v", terr)
	}

	want := Record{"name": "ANA", "id": int64(16)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Transform() = %v, want %v", got, want)
	}
}

func TestTransform_MissingSourceColumn(t *testing.T) {
	m := compileMap(t, mapping.FieldMap{
		"name": {Source: "first_name", Transform: mapping.TransformUpper},
	}, nil)

	rec, terr := Transform(source.Row{"last_name": "gomez"}, m)
	if terr == nil {
		t.Fatalf("Transform() = %v, want error for missing source column", rec)
	}
	if terr.Field != "first_name" {
		t.Errorf("TransformError.Field = %q, want %q", terr.Field, "first_name")
	}
}

func TestTransform_CopyAndStrip(t *testing.T) {
	m := compileMap(t, mapping.FieldMap{
		"documento": {Source: "CEDULA"},
		"ciudad":    {Source: "CIUDAD", Transform: mapping.TransformStrip},
		"origen":    {Literal: "carga_archivo", IsLiteral: true},
	}, nil)

	got, terr := Transform(source.Row{"CEDULA": "1012345678", "CIUDAD": "  Bogotá  "}, m)
	if terr != nil {
		t.Fatalf("Transform() error = %v", terr)
	}

	want := Record{
		"documento": "1012345678",
		"ciudad":    "Bogotá",
		"origen":    "carga_archivo",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Transform() = %v, want %v", got, want)
	}
}

func TestTransform_Deterministic(t *testing.T) {
	m := compileMap(t, mapping.FieldMap{
		"name": {Source: "NOMBRE", Transform: mapping.TransformLower},
		"tipo": {Literal: int64(2), IsLiteral: true},
	}, nil)
	row := source.Row{"NOMBRE": "MARÍA"}

	first, terr := Transform(row, m)
	if terr != nil {
		t.Fatalf("Transform() error = %v", terr)
	}
	second, terr := Transform(row, m)
	if terr != nil {
		t.Fatalf("Transform() error = %v", terr)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated Transform() differs: %v vs %v", first, second)
	}
	if row["NOMBRE"] != "MARÍA" {
		t.Errorf("Transform() mutated the input row: %v", row)
	}
}
