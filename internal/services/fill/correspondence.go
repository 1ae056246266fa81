package fill

import "sort"

// ResolveFieldID picks the field to write for the item at position index.
// The expected id wins when the page renders it. Otherwise the index-th discovered id is
// used, and when the page has fewer fields than that the expected id is tried anyway.
// discovered must be sorted ascending.
func ResolveFieldID(expected, index int, discovered []int) (actual int, fallback bool) {
	if containsSorted(discovered, expected) {
		return expected, false
	}
	if index >= 0 && index < len(discovered) {
		return discovered[index], true
	}
	return expected, true
}

func containsSorted(ids []int, id int) bool {
	i := sort.SearchInts(ids, id)
	return i < len(ids) && ids[i] == id
}
