package util

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	placeholderRe   = regexp.MustCompile(`\{\{(.*?)\}\}`)
	templateSplitRe = regexp.MustCompile(`\n\n={5,}\n\n`)
)

// BuildSystemPrompt renders a list of prompt segments against vars. Every
// {{name}} placeholder is replaced by the value of vars[name]. A segment that
// references a variable which is missing or nil is dropped entirely. Kept
// segments are joined with a blank line.
func BuildSystemPrompt(templates []string, vars map[string]any) string {
	segments := make([]string, 0, len(templates))

	for _, tmpl := range templates {
		rendered, ok := renderSegment(tmpl, vars)
		if !ok {
			continue
		}
		segments = append(segments, rendered)
	}

	return strings.Join(segments, "\n\n")
}

func renderSegment(tmpl string, vars map[string]any) (string, bool) {
	if !strings.Contains(tmpl, "{{") { // fast path: no template markers
		return tmpl, true
	}

	complete := true
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		v, ok := vars[name]
		if !ok || v == nil {
			complete = false
			return match
		}
		return fmt.Sprint(v)
	})

	return out, complete
}

// SplitTemplateFile splits the contents of a prompt file into segments. Segments
// are separated by a line of five or more '=' surrounded by blank lines.
func SplitTemplateFile(data string) []string {
	data = strings.ReplaceAll(data, "\r\n", "\n")
	return templateSplitRe.Split(data, -1)
}

// TemplateVariables lists the distinct placeholder names used by templates in
// order of first appearance.
func TemplateVariables(templates []string) []string {
	seen := map[string]bool{}
	var names []string
	for _, tmpl := range templates {
		for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
			name := strings.TrimSpace(m[1])
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}
