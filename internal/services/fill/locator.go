package fill

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/formpilot/formpilot/internal/browser"
	"github.com/formpilot/formpilot/internal/config"
)

// FieldLocator knows the form's element naming and scans pages for the fields they render
type FieldLocator struct {
	textPrefix   string
	textSuffix   string
	selectPrefix string
	pattern      *regexp.Regexp
}

// NewFieldLocator creates a locator for the configured naming scheme
func NewFieldLocator(cfg config.FormConfig) *FieldLocator {
	return &FieldLocator{
		textPrefix:   cfg.TextFieldPrefix,
		textSuffix:   cfg.TextFieldSuffix,
		selectPrefix: cfg.SelectPrefix,
		pattern:      regexp.MustCompile("^" + regexp.QuoteMeta(cfg.TextFieldPrefix) + `(\d+)` + regexp.QuoteMeta(cfg.TextFieldSuffix) + "$"),
	}
}

// Selector matches every free-text field on a page
func (l *FieldLocator) Selector() string {
	return fmt.Sprintf("textarea[id^='%s'][id$='%s']", l.textPrefix, l.textSuffix)
}

// TextFieldID returns the element id of free-text field n
func (l *FieldLocator) TextFieldID(n int) string {
	return fmt.Sprintf("%s%d%s", l.textPrefix, n, l.textSuffix)
}

// SelectID returns the element id of a question's option control
func (l *FieldLocator) SelectID(questionNumber int) string {
	return fmt.Sprintf("%s%d", l.selectPrefix, questionNumber)
}

// Scan returns the sorted, distinct numeric ids of the free-text fields on the page.
// An empty page is not an error.
func (l *FieldLocator) Scan(page browser.Page) ([]int, error) {
	ids, err := page.AttributeValues(l.Selector(), "id")
	if err != nil {
		return nil, fmt.Errorf("scanning fields: %w", err)
	}

	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		m := l.pattern.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
