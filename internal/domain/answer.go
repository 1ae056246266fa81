package domain

import "sort"

// AnswerRecord is one spreadsheet row destined for the form
type AnswerRecord struct {
	QuestionNumber int    `json:"question_number"`
	FreeText       string `json:"free_text"`
	Categorical    string `json:"categorical"`
}

// AnswerSet maps question numbers to records and iterates them in ascending order
type AnswerSet struct {
	records map[int]AnswerRecord
}

// NewAnswerSet creates an empty answer set
func NewAnswerSet() *AnswerSet {
	return &AnswerSet{records: make(map[int]AnswerRecord)}
}

// Put stores a record. A later row with the same question number replaces the earlier one.
// Records with a non-positive question number or an empty free-text answer are ignored.
func (s *AnswerSet) Put(r AnswerRecord) bool {
	if r.QuestionNumber <= 0 || r.FreeText == "" {
		return false
	}
	s.records[r.QuestionNumber] = r
	return true
}

// Get returns the record for a question number
func (s *AnswerSet) Get(questionNumber int) (AnswerRecord, bool) {
	r, ok := s.records[questionNumber]
	return r, ok
}

// Len returns the number of records
func (s *AnswerSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records returns the records ordered by ascending question number
func (s *AnswerSet) Records() []AnswerRecord {
	if s == nil {
		return nil
	}
	out := make([]AnswerRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestionNumber < out[j].QuestionNumber
	})
	return out
}
