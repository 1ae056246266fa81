package fill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFieldID(t *testing.T) {
	tests := []struct {
		name         string
		expected     int
		index        int
		discovered   []int
		wantID       int
		wantFallback bool
	}{
		{name: "expected present", expected: 52, index: 1, discovered: []int{51, 52, 53}, wantID: 52},
		{name: "expected missing uses position", expected: 55, index: 1, discovered: []int{60, 61, 62}, wantID: 61, wantFallback: true},
		{name: "list shorter than index", expected: 55, index: 5, discovered: []int{60, 61}, wantID: 55, wantFallback: true},
		{name: "nothing discovered", expected: 3, index: 0, discovered: nil, wantID: 3, wantFallback: true},
		{name: "expected present out of order position", expected: 1, index: 2, discovered: []int{1, 2, 3}, wantID: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fallback := ResolveFieldID(tt.expected, tt.index, tt.discovered)
			assert.Equal(t, tt.wantID, got)
			assert.Equal(t, tt.wantFallback, fallback)
		})
	}
}

func TestChooseOption(t *testing.T) {
	labels := []string{"Seçiniz", "Evet", "Hayır", "Uygun Değil"}

	tests := []struct {
		target     string
		wantIndex  int
		wantMethod string
	}{
		{target: "Evet", wantIndex: 1, wantMethod: MethodExact},
		{target: "evet", wantIndex: 1, wantMethod: MethodExact},
		{target: "Uygun", wantIndex: 3, wantMethod: MethodPartial},
		{target: "Hayır, kesinlikle", wantIndex: 2, wantMethod: MethodPartial},
		{target: "Bulunuyor", wantIndex: 0, wantMethod: MethodDefault},
		{target: "", wantIndex: 0, wantMethod: MethodDefault},
	}
	for _, tt := range tests {
		idx, method := chooseOption(labels, tt.target)
		assert.Equal(t, tt.wantIndex, idx, "target %q", tt.target)
		assert.Equal(t, tt.wantMethod, method, "target %q", tt.target)
	}

	idx, method := chooseOption(nil, "Evet")
	assert.Equal(t, -1, idx)
	assert.Equal(t, MethodNone, method)

	idx, method = chooseOption([]string{"", "Evet"}, "Ev")
	assert.Equal(t, 1, idx, "empty labels are not partial matches")
	assert.Equal(t, MethodPartial, method)
}

func TestFieldLocator(t *testing.T) {
	l := NewFieldLocator(testForm)

	assert.Equal(t, "textarea[id^='ContentPlaceHolder1_txtsoru'][id$='aciklama']", l.Selector())
	assert.Equal(t, "ContentPlaceHolder1_txtsoru7aciklama", l.TextFieldID(7))
	assert.Equal(t, "ContentPlaceHolder1_drpcevap7", l.SelectID(7))
}

func TestFieldLocator_Scan(t *testing.T) {
	l := NewFieldLocator(testForm)
	page := newFixture(t, "").page
	for _, id := range []string{
		"ContentPlaceHolder1_txtsoru12aciklama",
		"ContentPlaceHolder1_txtsoru3aciklama",
		"ContentPlaceHolder1_txtsoru12aciklama",
		"ContentPlaceHolder1_txtsoruXaciklama",
		"ContentPlaceHolder1_txtsoru7aciklama",
	} {
		page.AddTextField(id)
	}

	ids, err := l.Scan(page)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7, 12}, ids)

	empty, err := l.Scan(newFixture(t, "").page)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
