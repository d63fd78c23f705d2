package util

import (
	"encoding/json"
	"regexp"
	"strings"
)

const responseKey = "response"

var (
	fencedJSONRe = regexp.MustCompile("(?s)```json(.*?)```")
	spacesRe     = regexp.MustCompile(` {2,}`)
	newlinesRe   = regexp.MustCompile(`\n{3,}`)
	smartQuotes  = strings.NewReplacer("“", `"`, "”", `"`)
)

// ParseAssistantMessage extracts JSON objects embedded in model text, either
// fenced as ```json blocks or inline {...}. It returns the remaining prose and
// the merged keys of every object found. Keys are merged with MergeValue; the
// "response" and "message" keys keep identical strings once and otherwise join
// them with a newline.
func ParseAssistantMessage(text string) (string, map[string]any) {
	text = smartQuotes.Replace(text)

	var objects []map[string]any
	remaining := text

	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		if obj, ok := decodeObject(m[1]); ok {
			objects = append(objects, obj)
			remaining = strings.Replace(remaining, m[0], "", 1)
		}
	}

	for _, candidate := range inlineObjects(remaining) {
		if obj, ok := decodeObject(candidate); ok {
			objects = append(objects, obj)
			remaining = strings.Replace(remaining, candidate, "", 1)
		}
	}

	if len(objects) == 0 {
		return text, map[string]any{}
	}

	remaining = strings.Trim(remaining, " \n\t\"")
	remaining = spacesRe.ReplaceAllString(remaining, " ")
	remaining = newlinesRe.ReplaceAllString(remaining, "\n\n")

	out := map[string]any{responseKey: remaining}
	for _, obj := range objects {
		for k, v := range obj {
			if k == responseKey || k == "message" {
				if s, ok := v.(string); ok {
					if old, exists := out[k].(string); exists {
						out[k] = mergeText(old, s)
						continue
					}
				}
			}
			MergeValue(out, k, v)
		}
	}

	response, _ := out[responseKey].(string)
	delete(out, responseKey)
	return response, out
}

// MergeValue merges v into dst[key]: booleans are OR-ed, strings accumulate
// separated by a newline, every other value replaces the previous one.
func MergeValue(dst map[string]any, key string, v any) {
	old, exists := dst[key]
	if !exists {
		dst[key] = v
		return
	}

	switch nv := v.(type) {
	case string:
		if prev, ok := old.(string); ok {
			dst[key] = prev + "\n" + nv
			return
		}
	case bool:
		if ob, ok := old.(bool); ok {
			dst[key] = ob || nv
			return
		}
	}

	dst[key] = v
}

// MergeValues merges every key of src into dst using MergeValue.
func MergeValues(dst, src map[string]any) {
	for k, v := range src {
		MergeValue(dst, k, v)
	}
}

func mergeText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "", a == b:
		return a
	default:
		return a + "\n" + b
	}
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// inlineObjects returns every balanced top-level {...} span of s. Braces
// inside JSON strings do not count.
func inlineObjects(s string) []string {
	var (
		spans    []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				spans = append(spans, s[start:i+1])
				start = -1
			}
		}
	}

	return spans
}
