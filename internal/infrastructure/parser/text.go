package parser

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// elementText reads the value an operator sees for an element: the value of
// an input, the source (or alt) of an image, otherwise its own text nodes,
// falling back to the full nested text.
func elementText(sel *goquery.Selection) string {
	switch goquery.NodeName(sel) {
	case "input":
		v, _ := sel.Attr("value")
		return strings.TrimSpace(v)
	case "img":
		if src, ok := sel.Attr("src"); ok && strings.TrimSpace(src) != "" {
			return strings.TrimSpace(src)
		}
		alt, _ := sel.Attr("alt")
		return strings.TrimSpace(alt)
	}

	if direct := directText(sel); direct != "" {
		return direct
	}
	return normalizeSpace(sel.Text())
}

func directText(sel *goquery.Selection) string {
	var parts []string
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) != "#text" {
			return
		}
		if t := strings.TrimSpace(c.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return normalizeSpace(strings.Join(parts, " "))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CollapseRepeated turns a string made of two identical halves into one
// half ("ABCABC" -> "ABC"). Anything else is returned unchanged.
func CollapseRepeated(s string) string {
	s = strings.TrimSpace(s)
	n := len(s)
	if n < 2 {
		return s
	}
	if n%2 == 0 && s[:n/2] == s[n/2:] {
		return s[:n/2]
	}
	// "ABC ABC"
	if n%2 == 1 && s[n/2] == ' ' && s[:n/2] == s[n/2+1:] {
		return s[:n/2]
	}
	return s
}

var timestampKeyHints = []string{"time", "date", "timestamp", "posted", "created", "updated", "when", "ago"}

// IsTimestampKey reports whether a field name looks like it holds a time.
func IsTimestampKey(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range timestampKeyHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

var nameSeparators = []string{"•", "·", "|", " - ", " – ", " — "}

// StripNamePrefix removes a leading "name <sep> " from a timestamp value
// ("Jane D. • 3:15pm Dec 1" -> "3:15pm Dec 1"). The prefix is only removed
// when it has no digits, so values like "12 - 14 May" are left alone.
// It is a best-effort cleanup for the "author • time" layout, not a parser.
func StripNamePrefix(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range nameSeparators {
		idx := strings.Index(s, sep)
		if idx <= 0 {
			continue
		}
		prefix := strings.TrimSpace(s[:idx])
		rest := strings.TrimSpace(s[idx+len(sep):])
		if prefix == "" || rest == "" || strings.IndexFunc(prefix, unicode.IsDigit) >= 0 {
			continue
		}
		return rest
	}
	return s
}

// CleanValue applies the repeat collapse and, for timestamp-like fields,
// the name prefix cleanup.
func CleanValue(field, value string) string {
	value = CollapseRepeated(value)
	if IsTimestampKey(field) {
		value = StripNamePrefix(value)
	}
	return value
}
