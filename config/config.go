// Package config loads container definitions from YAML or JSON files.
//
//	name: billing
//	description: Answers invoice questions
//	role: assistant
//	system_prompt_template: prompts/billing.txt
//	memory:
//	  type: window
//	  max_messages: 10
//	tools:
//	  lookup_invoice:
//	    package: billing
//	    func_name: LookupInvoice
//	    description: Find an invoice by number
//	  refunds: openapi/refunds.yaml
//
// Function tools are resolved through a tool.Registry; string tool values
// name an OpenAPI document turned into an HTTP action.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/handoffmesh/agent"
	"github.com/hupe1980/handoffmesh/container"
	"github.com/hupe1980/handoffmesh/core"
	"github.com/hupe1980/handoffmesh/internal/util"
	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/memory"
	"github.com/hupe1980/handoffmesh/model"
	"github.com/hupe1980/handoffmesh/tool"
	"github.com/hupe1980/handoffmesh/tool/openapi"
)

// File is the declarative form of a container.
type File struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Role        string `json:"role,omitempty" yaml:"role,omitempty"`
	AgentType   string `json:"agent_type,omitempty" yaml:"agent_type,omitempty"`
	AgentTopic  string `json:"agent_topic,omitempty" yaml:"agent_topic,omitempty"`

	SystemPromptTemplate Templates          `json:"system_prompt_template,omitempty" yaml:"system_prompt_template,omitempty"`
	Memory               Memory             `json:"memory,omitempty" yaml:"memory,omitempty"`
	Tools                map[string]ToolDef `json:"tools,omitempty" yaml:"tools,omitempty"`

	NextReceiveAgentTopic      string `json:"next_receive_agent_topic,omitempty" yaml:"next_receive_agent_topic,omitempty"`
	ToolResultAsSystemVariable *bool  `json:"tool_result_as_system_variable,omitempty" yaml:"tool_result_as_system_variable,omitempty"`
	ToolResultSaveAsMetadata   *bool  `json:"tool_result_save_as_metadata,omitempty" yaml:"tool_result_save_as_metadata,omitempty"`
	MaxToolRounds              int    `json:"max_tool_rounds,omitempty" yaml:"max_tool_rounds,omitempty"`
	JSONOutput                 bool   `json:"json_output,omitempty" yaml:"json_output,omitempty"`
}

// Memory selects the memory policy. The type defaults to zero and
// max_messages to 20.
type Memory struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	MaxMessages int    `json:"max_messages,omitempty" yaml:"max_messages,omitempty"`
}

// Templates is a list of system prompt templates. In a file it may also be a
// single string; a string ending in .txt names a template file.
type Templates struct {
	Items []string
	Path  string
}

func (t *Templates) set(single string) {
	if strings.HasSuffix(single, ".txt") {
		t.Path = single
		return
	}
	t.Items = []string{single}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Templates) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		t.set(s)
		return nil
	case yaml.SequenceNode:
		return value.Decode(&t.Items)
	default:
		return fmt.Errorf("line %d: system_prompt_template must be a string or a list", value.Line)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Templates) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.set(s)
		return nil
	}
	if err := json.Unmarshal(data, &t.Items); err != nil {
		return fmt.Errorf("system_prompt_template must be a string or a list: %w", err)
	}
	return nil
}

// ToolDef references a tool body. Either OpenAPI is set (the file form is a
// plain string) or FuncName names a registry entry.
type ToolDef struct {
	OpenAPI     string `json:"-" yaml:"-"`
	FuncName    string `json:"func_name,omitempty" yaml:"func_name,omitempty"`
	Package     string `json:"package,omitempty" yaml:"package,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type toolDefFields struct {
	FuncName    string `json:"func_name" yaml:"func_name"`
	Package     string `json:"package" yaml:"package"`
	Description string `json:"description" yaml:"description"`
}

func (d *ToolDef) fill(f toolDefFields) {
	d.FuncName, d.Package, d.Description = f.FuncName, f.Package, f.Description
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *ToolDef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&d.OpenAPI)
	case yaml.MappingNode:
		var f toolDefFields
		if err := value.Decode(&f); err != nil {
			return err
		}
		d.fill(f)
		return nil
	default:
		return fmt.Errorf("line %d: tool definition must be a string or a mapping", value.Line)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *ToolDef) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.OpenAPI); err == nil {
		return nil
	}
	var f toolDefFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("tool definition must be a string or an object: %w", err)
	}
	d.fill(f)
	return nil
}

// Options configures how a File becomes a container.
type Options struct {
	// Model serves the container's turns.
	Model model.Model
	// BaseDir resolves relative template and OpenAPI paths. LoadFile sets it to
	// the directory of the config file.
	BaseDir string
	// Authentication is applied to every OpenAPI action.
	Authentication openapi.Authentication
	HTTPClient     *http.Client
	Logger         logging.Logger
	// Container options passed through to container.New.
	ContainerOptions []func(o *container.Options)
}

// LoadFile reads path and builds the container it describes. The format is
// picked from the extension (.yaml, .yml, .json).
func LoadFile(ctx context.Context, path string, registry *tool.Registry, optFns ...func(o *Options)) (*container.Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read container config: %w", err)
	}

	format := detectFormat(path)
	if format == "" {
		return nil, core.NewConfigurationError("config", "unsupported file extension %q", filepath.Ext(path))
	}

	baseDir := filepath.Dir(path)
	fns := append([]func(o *Options){func(o *Options) { o.BaseDir = baseDir }}, optFns...)

	return LoadBytes(ctx, data, format, registry, fns...)
}

// LoadBytes parses data in format ("yaml" or "json") and builds the container.
func LoadBytes(ctx context.Context, data []byte, format string, registry *tool.Registry, optFns ...func(o *Options)) (*container.Container, error) {
	f, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	return f.Build(ctx, registry, optFns...)
}

// Parse decodes data without resolving tools or templates.
func Parse(data []byte, format string) (*File, error) {
	var f File

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, core.NewConfigurationError("config", "unsupported format %q, use \"yaml\" or \"json\"", format)
	}

	return &f, nil
}

// Build resolves templates, memory, role and tools into a container. The
// role defaults to assistant.
func (f *File) Build(ctx context.Context, registry *tool.Registry, optFns ...func(o *Options)) (*container.Container, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if f.Name == "" || f.Description == "" {
		return nil, core.NewConfigurationError("config", "name and description are required")
	}

	role := agent.RoleAssistant
	if f.Role != "" {
		role = agent.Role(strings.ToLower(f.Role))
		if !role.Valid() {
			return nil, core.NewConfigurationError("config", "container %q: unknown role %q", f.Name, f.Role)
		}
	}

	templates, err := f.templates(opts.BaseDir)
	if err != nil {
		return nil, err
	}

	maxMessages := f.Memory.MaxMessages
	if maxMessages <= 0 {
		maxMessages = memory.DefaultWindowSize
	}

	policy, err := memory.Parse(f.Memory.Type, maxMessages)
	if err != nil {
		return nil, core.NewConfigurationError("config", "container %q: %v", f.Name, err)
	}

	tools, err := f.tools(ctx, registry, opts)
	if err != nil {
		return nil, err
	}

	spec := container.Spec{
		Name:                  f.Name,
		Description:           f.Description,
		Role:                  role,
		AgentType:             f.AgentType,
		AgentTopic:            core.Topic(f.AgentTopic),
		SystemPrompt:          templates,
		Model:                 opts.Model,
		Memory:                policy,
		Tools:                 tools,
		NextReceiver:          f.NextReceiveAgentTopic,
		ToolResultAsVariables: f.ToolResultAsSystemVariable,
		SaveToolResults:       f.ToolResultSaveAsMetadata,
		MaxToolRounds:         f.MaxToolRounds,
		JSONOutput:            f.JSONOutput,
	}

	opts.Logger.Info("config.loaded",
		"container", f.Name,
		"role", role,
		"tools", len(tools),
		"memory", policy.String(),
		"prompt_variables", util.TemplateVariables(templates),
	)

	return container.New(spec, opts.ContainerOptions...), nil
}

func (f *File) templates(baseDir string) ([]string, error) {
	t := f.SystemPromptTemplate
	if t.Path == "" {
		return append([]string(nil), t.Items...), nil
	}

	data, err := os.ReadFile(resolvePath(baseDir, t.Path))
	if err != nil {
		return nil, fmt.Errorf("container %q: read system prompt template: %w", f.Name, err)
	}

	return util.SplitTemplateFile(string(data)), nil
}

func (f *File) tools(ctx context.Context, registry *tool.Registry, opts Options) ([]tool.Tool, error) {
	names := make([]string, 0, len(f.Tools))
	for name := range f.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]tool.Tool, 0, len(names))

	for _, name := range names {
		def := f.Tools[name]

		t, err := f.buildTool(ctx, name, def, registry, opts)
		if err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, nil
}

func (f *File) buildTool(ctx context.Context, name string, def ToolDef, registry *tool.Registry, opts Options) (tool.Tool, error) {
	if def.OpenAPI != "" {
		if detectFormat(def.OpenAPI) == "" {
			return nil, core.NewConfigurationError("config", "container %q: tool %q: unsupported OpenAPI document %q", f.Name, name, def.OpenAPI)
		}

		action, err := openapi.New(ctx, openapi.NewFileLoader(resolvePath(opts.BaseDir, def.OpenAPI)), func(o *openapi.Options) {
			o.Name = name
			o.Authentication = opts.Authentication
			o.Logger = opts.Logger
			if opts.HTTPClient != nil {
				o.HTTPClient = opts.HTTPClient
			}
		})
		if err != nil {
			return nil, fmt.Errorf("container %q: tool %q: %w", f.Name, name, err)
		}

		return action, nil
	}

	if def.FuncName == "" {
		return nil, core.NewConfigurationError("config", "container %q: tool %q needs func_name or an OpenAPI document", f.Name, name)
	}

	if registry == nil {
		return nil, core.NewConfigurationError("config", "container %q: tool %q needs a registry", f.Name, name)
	}

	t, err := registry.NewTool(tool.RegistryID(def.Package, def.FuncName), name, def.Description, func(o *tool.FunctionOptions) {
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("container %q: %w", f.Name, err)
	}

	return t, nil
}

func resolvePath(baseDir, path string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
