package sim

import "strings"

// Interpolate replaces {{name}} placeholders with attribute values in a
// single literal pass. Placeholders without a matching attribute are left
// verbatim, and substituted values are never re-scanned, so an attribute
// containing "{{x}}" cannot expand further.
func Interpolate(text string, attrs map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	for {
		open := strings.Index(text, "{{")
		if open < 0 {
			b.WriteString(text)
			break
		}
		close := strings.Index(text[open:], "}}")
		if close < 0 {
			b.WriteString(text)
			break
		}
		close += open

		name := strings.TrimSpace(text[open+2 : close])
		if val, ok := attrs[name]; ok {
			b.WriteString(text[:open])
			b.WriteString(val)
		} else {
			b.WriteString(text[:close+2])
		}
		text = text[close+2:]
	}

	return b.String()
}
