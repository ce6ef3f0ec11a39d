// Package columnar writes schema-on-read tabular data to a compressed
// Parquet file via Apache Arrow. The teacher repository has no columnar
// writer of its own; this is grounded on the rest of the retrieved
// example pack, whose chaturanga836-storage_system manifest explicitly
// lists github.com/apache/arrow/go/v14 (and its parquet subpackages) as
// the library for exactly this kind of partitioned columnar output.
//
// The schema is inferred per write from the union of columns present
// across a table's rows — no caller declares a closed schema — matching
// the Refiner's schema-on-read discipline (spec §9).
package columnar

import (
	"bytes"
	"fmt"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/weatherarchive/edr-ingest/internal/errs"
)

// Row maps a column name to a dynamically-typed cell value. Supported
// kinds: string, float64, int64, bool, time.Time, or nil (null).
type Row map[string]interface{}

// Table is an in-memory columnar table awaiting serialization. Columns
// is the canonical column order; rows missing a column are written as
// null for that column, giving the format's native null handling the
// job of representing "parameter absent this row" (spec §9).
type Table struct {
	Columns []string
	Rows    []Row
}

// inferType determines the Arrow type for column name by scanning rows
// for the first non-nil value. Columns with no non-nil value anywhere
// default to Arrow's utf8 (string) type so the file still carries the column.
func inferType(rows []Row, name string) arrow.DataType {
	for _, r := range rows {
		v, ok := r[name]
		if !ok || v == nil {
			continue
		}
		switch v.(type) {
		case string:
			return arrow.BinaryTypes.String
		case float64:
			return arrow.PrimitiveTypes.Float64
		case int64, int:
			return arrow.PrimitiveTypes.Int64
		case bool:
			return arrow.FixedWidthTypes.Boolean
		case time.Time:
			return arrow.FixedWidthTypes.Timestamp_us
		}
	}
	return arrow.BinaryTypes.String
}

// buildSchema produces a stable-ordered Arrow schema: Columns in the
// order supplied by the caller (timestamp/station_id/year/month first,
// by convention, followed by parameter names sorted for determinism).
func buildSchema(t Table) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(t.Columns))
	for _, name := range t.Columns {
		fields = append(fields, arrow.Field{
			Name:     name,
			Type:     inferType(t.Rows, name),
			Nullable: true,
		})
	}
	return arrow.NewSchema(fields, nil)
}

// Encode serializes t to Parquet bytes, compressed with Snappy. An empty
// table (zero rows) still produces a valid, zero-row file carrying the
// inferred schema, satisfying the "12 partitions per year, empty months
// included" invariant (spec §4.6 step 4).
func Encode(t Table) ([]byte, error) {
	schema := buildSchema(t)
	mem := memory.NewGoAllocator()
	bldr := array.NewRecordBuilder(mem, schema)
	defer bldr.Release()

	for _, row := range t.Rows {
		for i, name := range t.Columns {
			appendValue(bldr.Field(i), row[name])
		}
	}

	rec := bldr.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	writer, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, &errs.IOError{Op: "parquet-new-writer", Err: err}
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return nil, &errs.IOError{Op: "parquet-write", Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &errs.IOError{Op: "parquet-close", Err: err}
	}
	return buf.Bytes(), nil
}

func appendValue(b array.Builder, v interface{}) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch fb := b.(type) {
	case *array.StringBuilder:
		if s, ok := v.(string); ok {
			fb.Append(s)
		} else {
			fb.Append(fmt.Sprintf("%v", v))
		}
	case *array.Float64Builder:
		switch n := v.(type) {
		case float64:
			fb.Append(n)
		case int64:
			fb.Append(float64(n))
		case int:
			fb.Append(float64(n))
		default:
			fb.AppendNull()
		}
	case *array.Int64Builder:
		switch n := v.(type) {
		case int64:
			fb.Append(n)
		case int:
			fb.Append(int64(n))
		default:
			fb.AppendNull()
		}
	case *array.BooleanBuilder:
		if bv, ok := v.(bool); ok {
			fb.Append(bv)
		} else {
			fb.AppendNull()
		}
	case *array.TimestampBuilder:
		if t, ok := v.(time.Time); ok {
			fb.Append(arrow.Timestamp(t.UnixMicro()))
		} else {
			fb.AppendNull()
		}
	default:
		b.AppendNull()
	}
}

// Ext is the canonical extension for this columnar format, used when
// building refined partition paths (spec §6).
const Ext = "parquet"
