package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trip-pipeline/models"
)

// WriteReport writes the cleaning report as text to path and as JSON to
// path + ".json". Both files are replaced atomically.
func WriteReport(path string, r *models.CleaningReport) error {
	if err := writeFileAtomic(path, func(w io.Writer) error { return FormatReport(w, r) }); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := writeFileAtomic(path+".json", func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}); err != nil {
		return fmt.Errorf("report: json sidecar: %w", err)
	}
	return nil
}

// FormatReport renders the human-readable audit log.
func FormatReport(w io.Writer, r *models.CleaningReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Cleaning run %s\n", r.RunID)
	fmt.Fprintf(&b, "Source: %s\n", r.Source)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Finished: %s\n", r.FinishedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Chunks: %d\n\n", r.Chunks)

	fmt.Fprintf(&b, "Rows before cleaning: %d\n", r.RowsBefore)
	fmt.Fprintf(&b, "Rows after dropna & duplicates: %d\n", r.RowsAfterDedup)
	fmt.Fprintf(&b, "Rows after validity filter: %d\n", r.RowsAfterValidation)
	fmt.Fprintf(&b, "Rows written: %d\n", r.RowsOut)
	fmt.Fprintf(&b, "Removed %d invalid records.\n", r.StageRemoved(models.StageValidated))
	fmt.Fprintf(&b, "Speed outliers flagged: %d\n\n", r.Outliers)

	b.WriteString("Removals:\n")
	for _, rm := range r.Removals {
		fmt.Fprintf(&b, "  %-14s %-24s %d", rm.Stage, rm.Reason, rm.Count)
		if len(rm.SampleRows) > 0 {
			fmt.Fprintf(&b, "  rows %s", joinInts(rm.SampleRows))
			if rm.Count > len(rm.SampleRows) {
				b.WriteString(" ...")
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("  (duplicates are compared on the trip columns only; id and vendor_id are ignored)\n")

	fmt.Fprintf(&b, "\nFare policy: %s\n", r.FarePolicy)
	fmt.Fprintf(&b, "Peak policy: %s\n", r.PeakPolicy)
	fmt.Fprintf(&b, "Peak hours: %s\n", joinInts(r.PeakHours))

	_, err := io.WriteString(w, b.String())
	return err
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	f, err := createTemp(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return fmt.Errorf("write %q: %w", filepath.Base(path), err)
	}
	return commitTemp(f, path)
}
