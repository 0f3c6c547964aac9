package pipeline

import (
	"filebridge/internal/mapping"
	"filebridge/internal/source"
)

// Record is a normalized record: target field name -> value. Values are
// strings for column-derived fields and whatever scalar the mapping bound
// for literal fields.
type Record map[string]any

// Transform applies a compiled mapping to one raw row.
//
// It is a pure function: the same row and mapping always yield the same
// record, and neither input is mutated. A referenced source column that is
// absent from the row fails the whole row with a TransformError; raw columns
// the mapping does not reference are simply ignored.
func Transform(row source.Row, m *mapping.Compiled) (Record, *TransformError) {
	rec := make(Record, len(m.Ops))

	for _, op := range m.Ops {
		switch op.Kind {
		case mapping.OpLiteral:
			rec[op.Target] = op.Literal

		case mapping.OpCopy:
			val, ok := row[op.Source]
			if !ok {
				return nil, &TransformError{Field: op.Source, Reason: "source column not present in row"}
			}
			rec[op.Target] = val

		case mapping.OpTransform:
			val, ok := row[op.Source]
			if !ok {
				return nil, &TransformError{Field: op.Source, Reason: "source column not present in row"}
			}
			rec[op.Target] = op.Fn(val)
		}
	}

	return rec, nil
}
