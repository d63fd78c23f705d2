package agent

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/memory"
	"github.com/hupe1980/handoffmesh/model"
	"github.com/hupe1980/handoffmesh/tool"
)

// Role tags the behavior of an agent.
type Role string

const (
	RolePlain     Role = "plain"
	RoleProxy     Role = "proxy"
	RoleAssistant Role = "assistant"
	RoleMaster    Role = "master"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlain, RoleProxy, RoleAssistant, RoleMaster:
		return true
	default:
		return false
	}
}

// Next receiver values understood by Config.NextReceiver. Any other value is
// used as a topic.
const (
	NextReceiverAgent  = "agent"
	NextReceiverMaster = "master"
)

// Intent markers inspected by the assistant behavior.
const (
	IntentOutOfScope = "OOS"
	IntentMainUC     = "MAIN_UC"
)

// Config is the resolved, immutable description of one agent. It is produced
// by container.Container.Resolve once the group graph is compiled.
type Config struct {
	Name        string
	Description string
	Role        Role

	AgentType   string
	AgentTopic  core.Topic
	ProxyTopic  core.Topic
	MasterTopic core.Topic
	GroupTopic  core.Topic

	// Proxy only.
	InnerTopic  core.Topic
	OuterTopics []core.Topic

	SystemPrompt []string
	Model        model.Model
	Memory       memory.Policy
	Tools        []tool.Tool
	// HandoffTools hand the conversation down (to members or sub-groups).
	HandoffTools []*tool.HandoffTool
	// EscalationTools hand the conversation up (to a super-group).
	EscalationTools []*tool.HandoffTool

	NextReceiver          string
	ToolResultAsVariables bool
	SaveToolResults       bool
	MaxToolRounds         int
	JSONOutput            bool
	ExtraArgs             map[string]any

	Logger logging.Logger
	Tracer trace.Tracer
}
