package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	templates := []string{
		"You are {{role}}.",
		"Customer: {{customer}}",
		"Plan: {{ plan }} for {{customer}}",
		"Always be polite.",
	}

	got := BuildSystemPrompt(templates, map[string]any{"role": "billing", "plan": "pro"})
	assert.Equal(t, "You are billing.\n\nAlways be polite.", got)

	got = BuildSystemPrompt(templates, map[string]any{"role": "billing", "customer": "Ada", "plan": "pro"})
	assert.Equal(t, "You are billing.\n\nCustomer: Ada\n\nPlan: pro for Ada\n\nAlways be polite.", got)

	got = BuildSystemPrompt(templates[:1], map[string]any{"role": nil})
	assert.Equal(t, "", got)

	assert.Equal(t, "", BuildSystemPrompt(nil, nil))
}

func TestSplitTemplateFile(t *testing.T) {
	data := "first part\n\n=====\n\nsecond {{x}}\r\n\r\n========\r\n\r\nthird"
	assert.Equal(t, []string{"first part", "second {{x}}", "third"}, SplitTemplateFile(data))
	assert.Equal(t, []string{"single"}, SplitTemplateFile("single"))
}

func TestTemplateVariables(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, TemplateVariables([]string{"{{a}} {{ b }}", "{{a}}"}))
}
