// Package sheet reads answer workbooks.
package sheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/domain"
)

// Reader parses workbook sheets into answer sets
type Reader struct {
	logger *zap.Logger
}

// NewReader creates a new Reader
func NewReader(logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{logger: logger}
}

// SheetIndex returns the zero-based position of sheetName, or -1 if it does not exist
func (r *Reader) SheetIndex(path, sheetName string) (int, error) {
	return SheetIndex(path, sheetName)
}

// Read parses the named sheet of the workbook at path
func (r *Reader) Read(path, sheetName string) (*domain.AnswerSet, error) {
	f, err := openWorkbook(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if indexOf(f.GetSheetList(), sheetName) < 0 {
		return nil, domain.ErrSheetNotFound(sheetName)
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, domain.ErrWorkbookUnreadable(path, err)
	}

	headerRow, firstCol, lastCol, ok := usedRange(rows)
	if !ok {
		return nil, domain.ErrEmptySheet(sheetName)
	}

	cols, ok := discoverColumns(rows[headerRow], firstCol, lastCol)
	if !ok {
		return nil, domain.ErrRequiredColumnsMissing(cols.Headers).
			WithMetadata("sheet", sheetName)
	}

	if len(cols.Fallbacks) > 0 {
		r.logger.Warn("columns picked by position",
			zap.String("sheet", sheetName),
			zap.Strings("columns", cols.Fallbacks),
			zap.Strings("headers", cols.Headers),
		)
	}

	answers := domain.NewAnswerSet()
	skipped := 0
	for _, row := range rows[headerRow+1:] {
		record := domain.AnswerRecord{
			QuestionNumber: extractQuestionNumber(cell(row, cols.Sequence)),
			FreeText:       strings.TrimSpace(cell(row, cols.Answer)),
			Categorical:    strings.TrimSpace(cell(row, cols.Categorical)),
		}
		if !answers.Put(record) {
			skipped++
		}
	}

	r.logger.Debug("sheet read",
		zap.String("sheet", sheetName),
		zap.Int("answers", answers.Len()),
		zap.Int("skipped_rows", skipped),
		zap.Int("sequence_col", cols.Sequence),
		zap.Int("answer_col", cols.Answer),
		zap.Int("categorical_col", cols.Categorical),
	)

	return answers, nil
}

// usedRange finds the first non-empty row and the column bounds of all non-empty cells
func usedRange(rows [][]string) (headerRow, firstCol, lastCol int, ok bool) {
	headerRow, firstCol, lastCol = -1, -1, -1
	for i, row := range rows {
		for j, v := range row {
			if strings.TrimSpace(v) == "" {
				continue
			}
			if headerRow == -1 {
				headerRow = i
			}
			if firstCol == -1 || j < firstCol {
				firstCol = j
			}
			if j > lastCol {
				lastCol = j
			}
		}
	}
	return headerRow, firstCol, lastCol, headerRow >= 0
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func indexOf(list []string, name string) int {
	for i, s := range list {
		if s == name {
			return i
		}
	}
	return -1
}

func openWorkbook(path string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, domain.ErrWorkbookUnreadable(path, fmt.Errorf("open: %w", err))
	}
	return f, nil
}
