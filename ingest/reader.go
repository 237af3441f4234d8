// Package ingest reads raw trip CSV files in fixed-size chunks and turns each
// chunk into typed columns.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// Chunk is one slice of the source file held as a string-typed DataFrame
// restricted to the schema's columns.
type Chunk struct {
	Index int
	// FirstRow is the 1-based data row number of the chunk's first row.
	FirstRow int
	Frame    dataframe.DataFrame
}

// Len returns the number of rows in the chunk.
func (c *Chunk) Len() int {
	return c.Frame.Nrow()
}

// Reader streams a raw trip CSV. The header is read and checked when the
// Reader is created, so a SchemaError surfaces before any row is processed.
type Reader struct {
	csv       *csv.Reader
	schema    Schema
	columns   []string
	positions []int
	chunkSize int

	rowsRead int
	chunks   int
	done     bool
}

// NewReader reads the header from r and resolves the schema. chunkSize <= 0
// reads the whole input as a single chunk.
func NewReader(r io.Reader, chunkSize int) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &SchemaError{Missing: []string{ColPickupDatetime, ColTripDuration, ColPassengerCount}}
		}
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}

	schema, err := ResolveSchema(header)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	columns := schema.Columns()
	positions := make([]int, len(columns))
	for i, c := range columns {
		positions[i] = index[c]
	}

	return &Reader{
		csv:       cr,
		schema:    schema,
		columns:   columns,
		positions: positions,
		chunkSize: chunkSize,
	}, nil
}

// Schema returns the resolved input schema.
func (r *Reader) Schema() Schema {
	return r.schema
}

// Next returns the next chunk, or io.EOF once the input is exhausted.
func (r *Reader) Next() (*Chunk, error) {
	if r.done {
		return nil, io.EOF
	}

	records := [][]string{r.columns}
	for r.chunkSize <= 0 || len(records)-1 < r.chunkSize {
		rec, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			r.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read row %d: %w", r.rowsRead+len(records), err)
		}
		records = append(records, r.project(rec))
	}

	n := len(records) - 1
	if n == 0 {
		return nil, io.EOF
	}

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("ingest: build chunk %d: %w", r.chunks, df.Err)
	}

	chunk := &Chunk{Index: r.chunks, FirstRow: r.rowsRead + 1, Frame: df}
	r.rowsRead += n
	r.chunks++
	return chunk, nil
}

// project keeps the schema's columns of rec, padding short rows with empty
// values so they are later treated as missing.
func (r *Reader) project(rec []string) []string {
	out := make([]string, len(r.positions))
	for i, p := range r.positions {
		if p < len(rec) {
			out[i] = strings.TrimSpace(rec[p])
		}
	}
	return out
}
