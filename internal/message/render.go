// Package message renders job templates into delivery text.
package message

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"PageHarvester/internal/domain"
)

var placeholderExpr = regexp.MustCompile(`\{(\w+)\}`)

// Render substitutes {field} placeholders with record values in a single
// literal pass. Placeholders without a matching field stay verbatim and are
// returned as unresolved.
func Render(template string, record domain.Record) (string, []string) {
	if template == "" {
		return Default(record), nil
	}

	values := record.Map()
	var unresolved []string
	out := placeholderExpr.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := values[name]; ok {
			return v
		}
		unresolved = append(unresolved, name)
		return match
	})
	return out, unresolved
}

// Default renders one "name: value" line per content field.
func Default(record domain.Record) string {
	var b strings.Builder
	for _, f := range record.Fields {
		if strings.HasPrefix(f.Name, domain.MetadataPrefix) {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Placeholders lists the distinct placeholder names used by a template.
func Placeholders(template string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderExpr.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	sort.Strings(out)
	return out
}
