package domain

import "testing"

const testTemplate = "https://form.example.com/raporguncellebolum%d.aspx"

func TestResolvePageRange(t *testing.T) {
	tests := []struct {
		page      int
		wantPage  int
		wantStart int
		wantEnd   int
		wantURL   string
	}{
		{page: 1, wantPage: 1, wantStart: 1, wantEnd: 50, wantURL: "https://form.example.com/raporguncellebolum1.aspx"},
		{page: 2, wantPage: 2, wantStart: 51, wantEnd: 101, wantURL: "https://form.example.com/raporguncellebolum2.aspx"},
		{page: 3, wantPage: 3, wantStart: 102, wantEnd: 152, wantURL: "https://form.example.com/raporguncellebolum3.aspx"},
		{page: 4, wantPage: 4, wantStart: 153, wantEnd: 203, wantURL: "https://form.example.com/raporguncellebolum4.aspx"},
		{page: 5, wantPage: 5, wantStart: 204, wantEnd: 254, wantURL: "https://form.example.com/raporguncellebolum5.aspx"},
	}

	for _, tt := range tests {
		got := ResolvePageRange(tt.page, testTemplate)
		if got.PageNumber != tt.wantPage || got.StartFieldID != tt.wantStart || got.EndFieldID != tt.wantEnd || got.URL != tt.wantURL {
			t.Errorf("ResolvePageRange(%d) = %+v", tt.page, got)
		}
	}
}

func TestResolvePageRange_FallsBackToFirstPage(t *testing.T) {
	first := ResolvePageRange(1, testTemplate)

	for _, page := range []int{0, -1, 6, 99} {
		if got := ResolvePageRange(page, testTemplate); got != first {
			t.Errorf("ResolvePageRange(%d) = %+v, want %+v", page, got, first)
		}
	}
}

func TestPageForOrdinal(t *testing.T) {
	if got := PageForOrdinal(0); got != 1 {
		t.Errorf("PageForOrdinal(0) = %d, want 1", got)
	}
	if got := PageForOrdinal(4); got != 5 {
		t.Errorf("PageForOrdinal(4) = %d, want 5", got)
	}
}

func TestPageRange_ExpectedFieldID(t *testing.T) {
	pr := ResolvePageRange(3, testTemplate)

	if got := pr.ExpectedFieldID(1); got != 102 {
		t.Errorf("ExpectedFieldID(1) = %d, want 102", got)
	}
	if !pr.Contains(152) || pr.Contains(153) {
		t.Error("Contains() does not match the page bounds")
	}
}

func TestPageName(t *testing.T) {
	tests := map[int]string{
		1: "Bölüm 1",
		2: "Bölüm 2-8",
		3: "Bölüm 3",
		5: "Bölüm 5",
		9: "Bölüm 9",
	}
	for page, want := range tests {
		if got := PageName(page); got != want {
			t.Errorf("PageName(%d) = %q, want %q", page, got, want)
		}
	}
}

func TestRunState_IsTerminal(t *testing.T) {
	for _, s := range []RunState{RunStateIdle, RunStateReadingSheet, RunStateNavigating, RunStateScanning, RunStateFilling} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !RunStateCompleted.IsTerminal() || !RunStateFailed.IsTerminal() {
		t.Error("completed and failed should be terminal")
	}
}
