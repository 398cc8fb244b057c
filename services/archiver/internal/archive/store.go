package archive

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is the archive as read from disk.
type Table struct {
	Header []string
	Rows   []models.Row
	Exists bool
}

// Store reads and writes the CSV archive.
type Store struct {
	path   string
	schema models.Schema
}

// NewStore returns a store for path. schema is the header used when the
// archive does not exist yet.
func NewStore(path string, schema models.Schema) *Store {
	return &Store{path: path, schema: schema}
}

// Path returns the archive location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the whole archive. A missing or empty file yields an empty table
// whose header is the configured schema.
func (s *Store) Load() (Table, error) {
	empty := Table{Header: append([]string(nil), s.schema...)}

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("archive: open %s: %w", s.path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if first, _ := br.Peek(len(utf8BOM)); string(first) == string(utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return empty, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("archive: read header: %w", err)
	}

	table := Table{Header: header, Exists: true}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("archive: read row %d: %w", len(table.Rows)+1, err)
		}
		row := make(models.Row, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// Save replaces the archive with header and rows. The table is written to a
// temporary file next to the archive and renamed over it.
func (s *Store) Save(header []string, rows []models.Row) error {
	if len(header) == 0 {
		header = s.schema
	}
	err := writeFileAtomic(s.path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, r := range rows {
			if err := cw.Write(r.Record(header)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", s.path, err)
	}
	return nil
}

// writeFileAtomic streams fill into a temp file in the target directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, fill func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err = fill(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
