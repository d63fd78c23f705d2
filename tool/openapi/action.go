// Package openapi turns the first operation of an OpenAPI document into an
// HTTP backed tool.
package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/hupe1980/handoffmesh/logging"
	"github.com/hupe1980/handoffmesh/tool"
)

const (
	defaultUserAgent = "handoffmesh-openapi/1.0"
	defaultTimeout   = 30 * time.Second
	defaultBaseURL   = "/"

	// DefaultMaxResponseBytes caps the response body an action reads (10 MiB).
	DefaultMaxResponseBytes int64 = 10 << 20
)

// BodyType is the encoding of the request body.
type BodyType string

const (
	BodyNone BodyType = "NONE"
	BodyJSON BodyType = "JSON"
	BodyForm BodyType = "FORM"
)

// Param is one argument of an action.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Enum        []any  `json:"enum,omitempty"`
	Required    bool   `json:"required"`
}

// Options configures an Action.
type Options struct {
	// Name overrides the operation id derived name.
	Name string
	// Description overrides the operation description.
	Description    string
	Authentication Authentication
	HTTPClient     *http.Client
	UserAgent      string
	Headers        map[string]string
	// MaxResponseBytes caps the response body; larger bodies fail the call.
	// Zero or less means DefaultMaxResponseBytes.
	MaxResponseBytes int64
	Logger           logging.Logger
}

// Action calls one HTTP operation described by an OpenAPI document.
type Action struct {
	name        string
	description string
	method      string
	baseURL     string
	path        string

	pathParams  map[string]Param
	queryParams map[string]Param
	bodyParams  map[string]Param
	bodyType    BodyType

	parameters map[string]any
	opts       Options
}

var _ tool.Tool = (*Action)(nil)

// New loads the document and builds an Action from its first operation
// (paths in lexical order, methods in GET, POST, PUT, PATCH, DELETE order).
func New(ctx context.Context, loader Loader, optFns ...func(o *Options)) (*Action, error) {
	opts := Options{
		Authentication: Authentication{Type: AuthNone},
		HTTPClient:     &http.Client{Timeout: defaultTimeout},
		UserAgent:      defaultUserAgent,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}

	doc, err := loadDocument(ctx, loader)
	if err != nil {
		return nil, err
	}

	return fromDocument(doc, opts)
}

var methodOrder = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

func fromDocument(doc *openapi3.T, opts Options) (*Action, error) {
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, fmt.Errorf("openapi: document has no paths")
	}

	paths := make([]string, 0, doc.Paths.Len())
	for p := range doc.Paths.Map() {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	var (
		path, method string
		op           *openapi3.Operation
		count        int
	)

	for _, p := range paths {
		item := doc.Paths.Value(p)
		if item == nil {
			continue
		}
		for _, m := range methodOrder {
			o := item.GetOperation(m)
			if o == nil {
				continue
			}
			count++
			if op == nil {
				path, method, op = p, m, o
			}
		}
	}

	if op == nil {
		return nil, fmt.Errorf("openapi: document has no supported operation")
	}

	if count > 1 {
		opts.Logger.Warn("openapi.action.multiple_operations", "count", count, "path", path, "method", method)
	}

	baseURL := defaultBaseURL
	if len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}

	a := &Action{
		name:        operationName(op, path, method),
		description: op.Description,
		method:      method,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		path:        path,
		pathParams:  map[string]Param{},
		queryParams: map[string]Param{},
		bodyParams:  map[string]Param{},
		bodyType:    BodyNone,
		opts:        opts,
	}

	if a.description == "" {
		a.description = op.Summary
	}

	if opts.Name != "" {
		a.name = opts.Name
	}

	if opts.Description != "" {
		a.description = opts.Description
	}

	for _, ref := range op.Parameters {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		param := newParam(p.Schema, p.Description, p.Required)
		switch p.In {
		case openapi3.ParameterInPath:
			param.Required = true
			a.pathParams[p.Name] = param
		case openapi3.ParameterInQuery:
			a.queryParams[p.Name] = param
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		a.collectBody(op.RequestBody.Value)
	}

	a.parameters = a.schema()

	return a, nil
}

func (a *Action) collectBody(body *openapi3.RequestBody) {
	var media *openapi3.MediaType

	if media = body.Content.Get("application/json"); media != nil {
		a.bodyType = BodyJSON
	} else if media = body.Content.Get("application/x-www-form-urlencoded"); media != nil {
		a.bodyType = BodyForm
	}

	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		a.bodyType = BodyNone
		return
	}

	s := media.Schema.Value
	required := map[string]bool{}
	for _, r := range s.Required {
		required[r] = true
	}

	for name, prop := range s.Properties {
		desc := ""
		if prop != nil && prop.Value != nil {
			desc = prop.Value.Description
		}
		a.bodyParams[name] = newParam(prop, desc, required[name])
	}
}

func newParam(ref *openapi3.SchemaRef, description string, required bool) Param {
	p := Param{Type: "string", Description: description, Required: required}
	if ref == nil || ref.Value == nil {
		return p
	}

	if ref.Value.Type != nil {
		if types := ref.Value.Type.Slice(); len(types) > 0 {
			p.Type = types[0]
		}
	}

	if p.Description == "" {
		p.Description = ref.Value.Description
	}

	p.Enum = ref.Value.Enum

	return p
}

func operationName(op *openapi3.Operation, path, method string) string {
	if op.OperationID != "" {
		return op.OperationID
	}

	name := strings.ToLower(method) + strings.ReplaceAll(path, "/", "_")
	name = strings.NewReplacer("{", "", "}", "").Replace(name)

	return strings.TrimSuffix(name, "_")
}

func (a *Action) schema() map[string]any {
	props := map[string]any{}
	required := []string{}

	for _, group := range []map[string]Param{a.pathParams, a.queryParams, a.bodyParams} {
		for name, p := range group {
			prop := map[string]any{"type": p.Type}
			if p.Description != "" {
				prop["description"] = p.Description
			}
			if len(p.Enum) > 0 {
				prop["enum"] = p.Enum
			}
			props[name] = prop
			if p.Required {
				required = append(required, name)
			}
		}
	}

	sort.Strings(required)

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func (a *Action) Name() string               { return a.name }
func (a *Action) Description() string        { return a.description }
func (a *Action) Parameters() map[string]any { return a.parameters }
func (a *Action) Render(v any) string        { return tool.RenderValue(v) }

// Method returns the HTTP method of the operation.
func (a *Action) Method() string { return a.method }

// Run performs the HTTP call. A 2xx JSON response is decoded and any "data"
// envelope (up to two levels) is unwrapped; non-JSON bodies are returned as
// text. Other status codes fail.
func (a *Action) Run(ctx context.Context, args map[string]any) (any, error) {
	a.opts.Logger.Debug("openapi.action.call", "tool", a.name, "method", a.method, "path", a.path)

	req, err := a.newRequest(ctx, args)
	if err != nil {
		return nil, err
	}

	resp, err := a.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openapi: %s %s: %w", a.method, a.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.opts.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("openapi: read response body: %w", err)
	}

	if int64(len(body)) > a.opts.MaxResponseBytes {
		return nil, tool.NewToolError(a.name, fmt.Sprintf("response body exceeds %d bytes", a.opts.MaxResponseBytes), tool.CodeExecution)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, tool.NewToolError(a.name, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), tool.CodeExecution)
	}

	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		return string(body), nil
	}

	return unwrapData(unwrapData(result)), nil
}

func unwrapData(v any) any {
	if m, ok := v.(map[string]any); ok {
		if data, ok := m["data"]; ok {
			return data
		}
	}
	return v
}

func (a *Action) newRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	path := a.path
	for name := range a.pathParams {
		v, ok := args[name]
		if !ok {
			return nil, tool.NewToolError(a.name, fmt.Sprintf("missing path parameter %q", name), tool.CodeValidation)
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(fmt.Sprint(v)))
	}

	endpoint, err := url.Parse(a.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("openapi: build url: %w", err)
	}

	query := endpoint.Query()
	for name := range a.queryParams {
		if v, ok := args[name]; ok && v != nil {
			query.Set(name, fmt.Sprint(v))
		}
	}
	endpoint.RawQuery = query.Encode()

	var (
		body        io.Reader
		contentType string
	)

	bodyArgs := map[string]any{}
	for name := range a.bodyParams {
		if v, ok := args[name]; ok {
			bodyArgs[name] = v
		}
	}

	switch a.bodyType {
	case BodyJSON:
		data, err := json.Marshal(bodyArgs)
		if err != nil {
			return nil, fmt.Errorf("openapi: encode body: %w", err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	case BodyForm:
		form := url.Values{}
		for k, v := range bodyArgs {
			form.Set(k, fmt.Sprint(v))
		}
		body, contentType = strings.NewReader(form.Encode()), "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, a.method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("openapi: new request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", a.opts.UserAgent)

	for k, v := range a.opts.Headers {
		req.Header.Set(k, v)
	}

	a.opts.Authentication.apply(req)

	return req, nil
}
