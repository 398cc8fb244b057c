package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Diagnostic replaces the recent snapshot when the fetch gave up, so readers
// can tell a broken feed from a quiet one.
type Diagnostic struct {
	Error           string `json:"error"`
	StatusCode      int    `json:"status_code"`
	AuthMode        string `json:"auth_mode"`
	Attempts        int    `json:"attempts"`
	ResponsePreview string `json:"response_preview"`
	Message         string `json:"message,omitempty"`
	CohortID        string `json:"cohort_id"`
	RunID           string `json:"run_id"`
	FetchedAt       string `json:"fetched_at"`
}

// WriteSnapshot pretty-prints a raw JSON document to path, keeping its key
// order, and replaces the file atomically.
func WriteSnapshot(path string, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("archive: indent snapshot: %w", err)
	}
	buf.WriteByte('\n')

	if err := writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	}); err != nil {
		return fmt.Errorf("archive: write snapshot %s: %w", path, err)
	}
	return nil
}

// WriteDiagnostic stores d as the recent snapshot.
func WriteDiagnostic(path string, d Diagnostic) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("archive: encode diagnostic: %w", err)
	}
	return WriteSnapshot(path, buf.Bytes())
}
