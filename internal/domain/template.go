package domain

import (
	"fmt"
	"strings"
)

// RenderTemplate replaces each {key} in tmpl with the matching value from vars.
// Substitution is literal and single-pass; unknown placeholders are kept as written.
func RenderTemplate(tmpl string, vars map[string]any) string {
	if tmpl == "" || len(vars) == 0 {
		return tmpl
	}

	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", stringify(value))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
