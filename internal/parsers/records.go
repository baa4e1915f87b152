// Package parsers reads QuickBooks report exports into normalized rows.
//
// QuickBooks reports are exported as CSV (sometimes Latin-1 encoded, often
// with a UTF-8 BOM) or as XLSX workbooks. Both are exposed through the same
// streaming Reader:
//
//	reader, err := parsers.Open("journal.csv")
//	if err != nil {
//		return err
//	}
//	defer reader.Close()
//
//	for {
//		row, err := reader.Next()
//		if err == io.EOF {
//			break
//		}
//		if err != nil {
//			return err
//		}
//		account, ok := row.Get("account")
//		...
//	}
//
// Header cells are trimmed, stripped of the BOM and converted to snake_case
// keys ("Sales Price" becomes "sales_price", "Trans #" becomes "trans#").
// Repeated keys are disambiguated as key, key_2, key_3. Blank cells are
// absent rather than empty, and rows with no present cell are skipped.
package parsers

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"crm-import-service/pkg/errors"
	"crm-import-service/pkg/logger"
)

// Row is one normalized data row. Keyed values are addressed by their
// normalized header key; Cell gives positional access for reports whose
// meaning depends on column position rather than header text.
type Row struct {
	Line   int
	values map[string]string
	cells  []string
}

// NewRow builds a row from already-normalized values.
func NewRow(line int, values map[string]string, cells []string) Row {
	if values == nil {
		values = map[string]string{}
	}
	return Row{Line: line, values: values, cells: cells}
}

// Get returns the value for key and whether it was present and non-blank.
func (r Row) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value for key, or "" when absent.
func (r Row) Value(key string) string {
	return r.values[key]
}

// Cell returns the sanitized cell at index i. The boolean reports whether the
// source row had a column at that position at all; a blank column yields
// ("", true).
func (r Row) Cell(i int) (string, bool) {
	if i < 0 || i >= len(r.cells) {
		return "", false
	}
	return r.cells[i], true
}

// Len returns the number of positional cells in the source row.
func (r Row) Len() int {
	return len(r.cells)
}

// Options tunes how a file is opened.
type Options struct {
	// Positional reads the header row without requiring usable column
	// names. Used by report passes that address cells by index.
	Positional bool
	Logger     logger.Logger
}

type recordSource interface {
	Read() ([]string, error)
}

// Reader streams normalized rows from a CSV or XLSX export. It is finite and
// cannot be restarted.
type Reader struct {
	path   string
	source recordSource
	closer io.Closer
	header []string
	line   int
	logger logger.Logger
}

// Open opens path with default options.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens path, reads its header row and returns a Reader
// positioned at the first data row.
func OpenWithOptions(path string, opts Options) (*Reader, error) {
	log := opts.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("parser").WithField("file_path", path)

	if err := CheckReadable(path); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.SourceUnavailable(path, err)
	}

	r := &Reader{path: path, closer: file, logger: log}

	if isSpreadsheet(path) {
		src, err := newSpreadsheetSource(file)
		if err != nil {
			file.Close()
			return nil, errors.ParseError(path, 0, err).WithSuggestion("re-export the report or save it as CSV")
		}
		r.source = src
	} else {
		reader := csv.NewReader(skipBOM(file))
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true
		r.source = reader
	}

	if err := r.readHeader(opts.Positional); err != nil {
		file.Close()
		return nil, err
	}

	log.WithField("columns", len(r.header)).Debug("Opened export")
	return r, nil
}

// skipBOM drops a leading UTF-8 byte order mark so the csv reader sees a
// quoted first header as quoted.
func skipBOM(r io.Reader) io.Reader {
	buffered := bufio.NewReader(r)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, []byte(byteOrderMark)) {
		buffered.Discard(len(byteOrderMark))
	}
	return buffered
}

// CheckReadable verifies that path names a readable regular file.
func CheckReadable(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.SourceUnavailable(path, nil).WithSuggestion("provide a path to the exported report")
	}

	info, err := os.Stat(path)
	if err != nil {
		return errors.SourceUnavailable(path, err)
	}
	if info.IsDir() {
		return errors.SourceUnavailable(path, nil).WithSuggestion("the path is a directory; provide the exported file")
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.SourceUnavailable(path, err)
	}
	return file.Close()
}

func (r *Reader) readHeader(positional bool) error {
	record, err := r.source.Read()
	if err == io.EOF {
		return errors.MalformedHeader(r.path, "the file is missing a header row")
	}
	if err != nil {
		return errors.ParseError(r.path, 1, err)
	}
	r.line = 1
	r.header = NormalizeHeader(record)

	if positional {
		return nil
	}
	for _, key := range r.header {
		if key != "" {
			return nil
		}
	}
	return errors.MalformedHeader(r.path, "the header does not contain any usable columns")
}

// Header returns the normalized header keys; unusable columns are "".
func (r *Reader) Header() []string {
	return r.header
}

// Path returns the file path the reader was opened on.
func (r *Reader) Path() string {
	return r.path
}

// Next returns the next non-empty row, or io.EOF when the file is exhausted.
func (r *Reader) Next() (Row, error) {
	for {
		record, err := r.source.Read()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		r.line++
		if err != nil {
			return Row{}, errors.ParseError(r.path, r.line, err)
		}

		cells := make([]string, len(record))
		empty := true
		for i, raw := range record {
			cells[i] = SanitizeValue(raw)
			if cells[i] != "" {
				empty = false
			}
		}
		if empty {
			continue
		}

		values := make(map[string]string, len(r.header))
		for i, key := range r.header {
			if key == "" || i >= len(cells) || cells[i] == "" {
				continue
			}
			values[key] = cells[i]
		}

		return Row{Line: r.line, values: values, cells: cells}, nil
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if closer, ok := r.source.(io.Closer); ok {
		closer.Close()
	}
	return r.closer.Close()
}

// Each reads every remaining row and calls fn for it, stopping at the first
// error returned by either the reader or fn.
func (r *Reader) Each(fn func(Row) error) error {
	for {
		row, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

func isSpreadsheet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}
