package quiz

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/alem-hub/quiz-engine/internal/domain/shared"
)

// LoadXLSX reads the first worksheet of an Excel workbook and delegates to
// Load. Header aliases and row rules are the same as for CSV.
func LoadXLSX(r io.Reader, opts LoadOptions) (*Bank, []ValidationError, error) {
	rows, err := ReadXLSX(r)
	if err != nil {
		return nil, nil, err
	}
	return Load(rows, opts)
}

// ReadXLSX returns the rows of the first worksheet. Trailing empty cells are
// dropped by excelize, so rows may be shorter than the header.
func ReadXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, shared.WrapError("quiz", "ReadXLSX", shared.ErrInvalidFormat, "malformed workbook", fmt.Errorf("open: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, shared.WrapError("quiz", "ReadXLSX", shared.ErrInvalidFormat, "malformed workbook", errors.New("no worksheets"))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, shared.WrapError("quiz", "ReadXLSX", shared.ErrInvalidFormat, "malformed workbook", fmt.Errorf("sheet %q: %w", sheets[0], err))
	}
	return rows, nil
}
