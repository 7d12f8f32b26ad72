package browser

import "strings"

var keyNames = map[string]string{
	"enter":     "Enter",
	"return":    "Enter",
	"tab":       "Tab",
	"esc":       "Escape",
	"escape":    "Escape",
	"space":     "Space",
	"backspace": "Backspace",
	"delete":    "Delete",
	"del":       "Delete",
	"home":      "Home",
	"end":       "End",
	"pageup":    "PageUp",
	"pgup":      "PageUp",
	"pagedown":  "PageDown",
	"pgdn":      "PageDown",
	"up":        "ArrowUp",
	"down":      "ArrowDown",
	"left":      "ArrowLeft",
	"right":     "ArrowRight",
	"ctrl":      "Control",
	"control":   "Control",
	"shift":     "Shift",
	"alt":       "Alt",
	"cmd":       "Meta",
	"win":       "Meta",
	"f5":        "F5",
}

// KeyName converts names like "pagedown" or "ctrl+a" to Playwright key
// names ("PageDown", "Control+a"). Unknown names pass through.
func KeyName(key string) string {
	parts := strings.Split(strings.TrimSpace(key), "+")
	for i, p := range parts {
		if mapped, ok := keyNames[strings.ToLower(strings.TrimSpace(p))]; ok {
			parts[i] = mapped
		} else {
			parts[i] = strings.TrimSpace(p)
		}
	}
	return strings.Join(parts, "+")
}
