package fill

import "strings"

// Selection methods, in the order they are tried
const (
	MethodExact   = "exact"
	MethodPartial = "partial"
	MethodDefault = "default"
	MethodNone    = "none"
)

// chooseOption picks the option to select for target: an exact case-insensitive match,
// then a substring match in either direction, then the first option.
func chooseOption(labels []string, target string) (int, string) {
	if len(labels) == 0 {
		return -1, MethodNone
	}

	t := strings.TrimSpace(target)
	if t != "" {
		for i, label := range labels {
			if strings.EqualFold(strings.TrimSpace(label), t) {
				return i, MethodExact
			}
		}

		lt := strings.ToLower(t)
		for i, label := range labels {
			l := strings.ToLower(strings.TrimSpace(label))
			// an empty label would match everything
			if l == "" {
				continue
			}
			if strings.Contains(l, lt) || strings.Contains(lt, l) {
				return i, MethodPartial
			}
		}
	}

	return 0, MethodDefault
}
