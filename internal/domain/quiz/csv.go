package quiz

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// CSVOptions настраивает чтение CSV поверх LoadOptions.
type CSVOptions struct {
	LoadOptions

	// Delimiter - разделитель полей, по умолчанию ','.
	Delimiter rune
}

// LoadCSV reads a CSV document and delegates to Load. A leading UTF-8 BOM is
// dropped; rows may have varying field counts.
func LoadCSV(r io.Reader, opts CSVOptions) (*Bank, []ValidationError, error) {
	rows, err := ReadCSV(r, opts.Delimiter)
	if err != nil {
		return nil, nil, err
	}
	return Load(rows, opts.LoadOptions)
}

// ReadCSV reads all records. delimiter 0 means ','.
func ReadCSV(r io.Reader, delimiter rune) ([][]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	if delimiter != 0 {
		cr.Comma = delimiter
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, shared.WrapError("quiz", "ReadCSV", shared.ErrInvalidFormat, "malformed csv", fmt.Errorf("read: %w", err))
	}
	return rows, nil
}
