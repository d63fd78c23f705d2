package memory

import (
	"fmt"
	"strings"

	"github.com/hupe1980/handoffmesh/core"
)

// Type selects the retention strategy of a Policy.
type Type string

const (
	// TypeWindow keeps the newest N turns.
	TypeWindow Type = "window"
	// TypeNaive keeps every turn.
	TypeNaive Type = "naive"
	// TypeZero keeps only the newest turn.
	TypeZero Type = "zero"
)

// DefaultWindowSize is the window used when none is configured.
const DefaultWindowSize = 20

// Policy is a turn retention knob.
type Policy struct {
	Type        Type `json:"type" yaml:"type"`
	MaxMessages int  `json:"max_messages,omitempty" yaml:"max_messages,omitempty"`
}

// Window returns a policy keeping the newest n turns. n <= 0 selects DefaultWindowSize.
func Window(n int) Policy {
	if n <= 0 {
		n = DefaultWindowSize
	}
	return Policy{Type: TypeWindow, MaxMessages: n}
}

// Naive returns a policy keeping every turn.
func Naive() Policy { return Policy{Type: TypeNaive} }

// Zero returns a policy keeping only the newest turn.
func Zero() Policy { return Policy{Type: TypeZero} }

// Default is Window(DefaultWindowSize).
func Default() Policy { return Window(DefaultWindowSize) }

// Parse builds a Policy from its config representation. An empty type selects
// zero, matching the declarative loader's default.
func Parse(typ string, maxMessages int) (Policy, error) {
	switch Type(strings.ToLower(strings.TrimSpace(typ))) {
	case TypeWindow:
		return Window(maxMessages), nil
	case TypeNaive:
		return Naive(), nil
	case TypeZero, "":
		return Zero(), nil
	default:
		return Policy{}, fmt.Errorf("unknown memory type %q", typ)
	}
}

// String renders the policy for logs.
func (p Policy) String() string {
	if p.Type == TypeWindow {
		return fmt.Sprintf("window[%d]", p.MaxMessages)
	}
	if p.Type == "" {
		return Default().String()
	}
	return string(p.Type)
}

// Apply returns the view of turns an agent sends to its model. The input slice
// is not modified. Leading tool turns are dropped after trimming so a tool
// result never reaches the model without its call.
func (p Policy) Apply(turns []core.Content) []core.Content {
	if len(turns) == 0 {
		return nil
	}

	var kept []core.Content
	switch p.Type {
	case TypeNaive:
		kept = turns
	case TypeZero:
		kept = turns[len(turns)-1:]
	default:
		n := p.MaxMessages
		if n <= 0 {
			n = DefaultWindowSize
		}
		if len(turns) > n {
			kept = turns[len(turns)-n:]
		} else {
			kept = turns
		}
	}

	for len(kept) > 1 && kept[0].Role == core.RoleTool {
		kept = kept[1:]
	}

	out := make([]core.Content, len(kept))
	copy(out, kept)
	return out
}
