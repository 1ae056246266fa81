// Package textutil holds Turkish-aware text helpers.
package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// UpperForms returns the trimmed Turkish and language-neutral upper-case forms of s.
// Spreadsheets mix "i" and "ı", so callers match either form.
func UpperForms(s string) [2]string {
	s = strings.TrimSpace(s)
	return [2]string{
		cases.Upper(language.Turkish).String(s),
		cases.Upper(language.Und).String(s),
	}
}

// EqualsAny reports whether either upper form of s equals one of candidates
func EqualsAny(s string, candidates []string) bool {
	for _, form := range UpperForms(s) {
		for _, c := range candidates {
			if form == c {
				return true
			}
		}
	}
	return false
}

// ContainsAny reports whether either upper form of s contains one of terms
func ContainsAny(s string, terms []string) bool {
	for _, form := range UpperForms(s) {
		for _, term := range terms {
			if strings.Contains(form, term) {
				return true
			}
		}
	}
	return false
}
