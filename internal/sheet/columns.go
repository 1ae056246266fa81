package sheet

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/formpilot/formpilot/pkg/textutil"
)

// Header variants accepted for the sequence column (exact match)
var sequenceHeaders = []string{"SN", "S.N", "S.NO", "SIRA", "SIRA NO", "NO"}

// Terms that identify the free-text answer column (substring match)
var answerHeaderTerms = []string{"DOKÜMANTASYON", "UYGULAMALAR", "CEVAP", "AÇIKLAMA", "NOT"}

// Labels that identify the categorical response column (exact match)
var categoricalHeaders = []string{"EVET", "HAYIR", "VAR", "YOK", "UYGUN", "UYGUN DEĞİL"}

var leadingNumber = regexp.MustCompile(`^(\d+)`)

// Columns holds the zero-based column indices chosen for a sheet
type Columns struct {
	Sequence    int
	Answer      int
	Categorical int
	Headers     []string
	// Fallbacks lists the columns that were picked by position
	Fallbacks []string
}

// discoverColumns scans the header row. firstCol and lastCol bound the used range.
// A column that no header matches falls back to the 1st, 3rd or 4th used column, even
// past the last used one; such a column reads as empty. ok is false only when there is
// no used range to place a column in.
func discoverColumns(header []string, firstCol, lastCol int) (Columns, bool) {
	cols := Columns{Sequence: -1, Answer: -1, Categorical: -1}
	if firstCol < 0 || lastCol < firstCol {
		return cols, false
	}

	for col := firstCol; col <= lastCol; col++ {
		text := ""
		if col < len(header) {
			text = strings.TrimSpace(header[col])
		}
		cols.Headers = append(cols.Headers, text)

		switch {
		case textutil.EqualsAny(text, sequenceHeaders):
			cols.Sequence = col
		case textutil.ContainsAny(text, answerHeaderTerms):
			cols.Answer = col
		case textutil.EqualsAny(text, categoricalHeaders):
			cols.Categorical = col
		}
	}

	if cols.Sequence == -1 {
		cols.Sequence = firstCol
		cols.Fallbacks = append(cols.Fallbacks, "sequence")
	}
	if cols.Answer == -1 {
		cols.Answer = firstCol + 2
		cols.Fallbacks = append(cols.Fallbacks, "answer")
	}
	if cols.Categorical == -1 {
		cols.Categorical = firstCol + 3
		cols.Fallbacks = append(cols.Fallbacks, "categorical")
	}

	return cols, true
}

// extractQuestionNumber returns the leading integer of a sequence cell.
// "1(BU)" gives 1; "(BU)" gives 0, which marks a sub-question.
func extractQuestionNumber(text string) int {
	m := leadingNumber.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
