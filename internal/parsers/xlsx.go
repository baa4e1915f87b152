package parsers

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// spreadsheetSource yields the rows of the first worksheet of an XLSX
// workbook in the same shape encoding/csv produces.
type spreadsheetSource struct {
	book *excelize.File
	rows [][]string
	next int
}

func newSpreadsheetSource(r io.Reader) (*spreadsheetSource, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		book.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := book.GetRows(sheets[0])
	if err != nil {
		book.Close()
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}

	return &spreadsheetSource{book: book, rows: rows}, nil
}

func (s *spreadsheetSource) Read() ([]string, error) {
	if s.next >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.next]
	s.next++
	return row, nil
}

func (s *spreadsheetSource) Close() error {
	return s.book.Close()
}
