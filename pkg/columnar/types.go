package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/basekick-labs/avrocol/pkg/avro"
)

var (
	timestampMillis = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	timestampMicros = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
)

// ArrowType maps an Avro type to the Arrow type of its column. Enums become
// strings holding the symbol; records become structs.
func ArrowType(t *avro.Type) arrow.DataType {
	switch t.Kind {
	case avro.Null:
		return arrow.Null
	case avro.Boolean:
		return arrow.FixedWidthTypes.Boolean
	case avro.Int32:
		if t.Logical == avro.LogicalDate {
			return arrow.FixedWidthTypes.Date32
		}
		return arrow.PrimitiveTypes.Int32
	case avro.Int64:
		switch t.Logical {
		case avro.LogicalTimestampMillis:
			return timestampMillis
		case avro.LogicalTimestampMicros:
			return timestampMicros
		}
		return arrow.PrimitiveTypes.Int64
	case avro.Float32:
		return arrow.PrimitiveTypes.Float32
	case avro.Float64:
		return arrow.PrimitiveTypes.Float64
	case avro.Bytes:
		return arrow.BinaryTypes.Binary
	case avro.String, avro.Enum:
		return arrow.BinaryTypes.String
	case avro.Record:
		fields := make([]arrow.Field, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = arrowField(f.Name, f.Type)
		}
		return arrow.StructOf(fields...)
	case avro.Array:
		return arrow.ListOfField(arrowField("item", t.Items))
	case avro.Map:
		mt := arrow.MapOf(arrow.BinaryTypes.String, ArrowType(t.Values))
		mt.SetItemNullable(nullable(t.Values))
		return mt
	}
	panic("columnar: unhandled avro kind " + t.Kind.String())
}

func arrowField(name string, t *avro.Type) arrow.Field {
	return arrow.Field{Name: name, Type: ArrowType(t), Nullable: nullable(t)}
}

func nullable(t *avro.Type) bool {
	return t.Nullable || t.Kind == avro.Null
}

// ArrowSchema returns the output schema for the given writer field positions.
func ArrowSchema(writer *avro.Schema, projection []int) *arrow.Schema {
	fields := make([]arrow.Field, len(projection))
	for i, idx := range projection {
		f := writer.Fields[idx]
		fields[i] = arrowField(f.Name, f.Type)
	}
	md := arrow.NewMetadata([]string{"avro.name"}, []string{writer.Name})
	return arrow.NewSchema(fields, &md)
}

// minEncodedSize is the fewest bytes one value of t can occupy.
func minEncodedSize(t *avro.Type) int {
	if t.Nullable {
		return 1
	}
	switch t.Kind {
	case avro.Null:
		return 0
	case avro.Float32:
		return 4
	case avro.Float64:
		return 8
	case avro.Record:
		n := 0
		for _, f := range t.Fields {
			n += minEncodedSize(f.Type)
		}
		return n
	default:
		return 1
	}
}
