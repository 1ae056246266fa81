package fill

import (
	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/pkg/textutil"
)

// AffirmativeLabel is the canonical affirmative option
const AffirmativeLabel = "Evet"

// canonicalLabels maps upper-cased spreadsheet values to the labels the form shows
var canonicalLabels = map[string]string{
	"EVET":        "Evet",
	"HAYIR":       "Hayır",
	"VAR":         "Var",
	"YOK":         "Yok",
	"UYGUN":       "Uygun",
	"UYGUN DEĞİL": "Uygun Değil",
	"BULUNUYOR":   "Bulunuyor",
	"BULUNMUYOR":  "Bulunmuyor",
	"1":           "Evet",
	"0":           "Hayır",
	"TRUE":        "Evet",
	"FALSE":       "Hayır",
	"YES":         "Evet",
	"NO":          "Hayır",
}

// Mapping is the result of normalising one categorical value
type Mapping struct {
	Raw   string
	Label string
	// Matched is false when the value was not in the alias table and the policy decided
	Matched bool
	// Skip means no option should be selected
	Skip bool
	// FirstOption means the first available option should be selected
	FirstOption bool
}

// ResponseValueMapper normalises categorical answers to option labels.
// Values outside the alias table are resolved by the configured policy; the default
// selects the affirmative label so an unreadable value never leaves a control blank.
type ResponseValueMapper struct {
	policy string
}

// NewResponseValueMapper creates a mapper with an unmapped-value policy
func NewResponseValueMapper(policy string) *ResponseValueMapper {
	switch policy {
	case config.CategoricalAffirmative, config.CategoricalFirstOption, config.CategoricalSkip:
	default:
		policy = config.CategoricalAffirmative
	}
	return &ResponseValueMapper{policy: policy}
}

// Policy returns the unmapped-value policy
func (m *ResponseValueMapper) Policy() string {
	return m.policy
}

// Map normalises raw
func (m *ResponseValueMapper) Map(raw string) Mapping {
	for _, form := range textutil.UpperForms(raw) {
		if label, ok := canonicalLabels[form]; ok {
			return Mapping{Raw: raw, Label: label, Matched: true}
		}
	}

	switch m.policy {
	case config.CategoricalSkip:
		return Mapping{Raw: raw, Skip: true}
	case config.CategoricalFirstOption:
		return Mapping{Raw: raw, FirstOption: true}
	default:
		return Mapping{Raw: raw, Label: AffirmativeLabel}
	}
}

// Label maps raw and returns only the label
func (m *ResponseValueMapper) Label(raw string) string {
	return m.Map(raw).Label
}
