package storage

import "fmt"

// Output formats accepted by NewSink.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// NewSink opens the cleaned-dataset sink for format at path.
func NewSink(format, path string) (TripSink, error) {
	switch format {
	case FormatCSV, "":
		w, err := NewCSVWriter(path)
		if err != nil {
			return nil, err
		}
		return w, nil
	case FormatParquet:
		w, err := NewParquetWriter(path)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("storage: unknown output format %q", format)
	}
}
