package domain

import "fmt"

// PageRange is a section of the target form and the field IDs it renders
type PageRange struct {
	PageNumber   int    `json:"page_number"`
	StartFieldID int    `json:"start_field_id"`
	EndFieldID   int    `json:"end_field_id"`
	URL          string `json:"url"`
}

// ExpectedFieldID returns the field ID a question is expected to occupy on this page
func (p PageRange) ExpectedFieldID(questionNumber int) int {
	return p.StartFieldID + questionNumber - 1
}

// Contains reports whether id lies inside the page's range
func (p PageRange) Contains(id int) bool {
	return id >= p.StartFieldID && id <= p.EndFieldID
}

type fieldSpan struct{ start, end int }

// The form's paging is fixed by the third party and is not introspected.
var pageFieldSpans = map[int]fieldSpan{
	1: {1, 50},
	2: {51, 101},
	3: {102, 152},
	4: {153, 203},
	5: {204, 254},
}

// PageCount is the number of pages in the fixed table
const PageCount = 5

// PageForOrdinal converts a zero-based sheet position into a page number
func PageForOrdinal(ordinal int) int {
	return ordinal + 1
}

// ResolvePageRange returns the range for a page number. Unknown pages fall back to page 1.
// urlTemplate must contain a single %d verb for the page number.
func ResolvePageRange(pageNumber int, urlTemplate string) PageRange {
	span, ok := pageFieldSpans[pageNumber]
	if !ok {
		pageNumber = 1
		span = pageFieldSpans[1]
	}
	return PageRange{
		PageNumber:   pageNumber,
		StartFieldID: span.start,
		EndFieldID:   span.end,
		URL:          fmt.Sprintf(urlTemplate, pageNumber),
	}
}

// PageName returns the label the form uses for a page
func PageName(pageNumber int) string {
	if pageNumber == 2 {
		return "Bölüm 2-8"
	}
	return fmt.Sprintf("Bölüm %d", pageNumber)
}
