package openapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/handoffmesh/tool"
)

const orderSpec = `
openapi: 3.0.3
info:
  title: orders
  version: "1.0"
servers:
  - url: %s/api
paths:
  /orders/{id}:
    get:
      operationId: get_order
      description: Look up an order by id.
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
        - name: verbose
          in: query
          schema:
            type: boolean
      responses:
        "200":
          description: OK
  /refunds:
    post:
      operationId: create_refund
      description: Create a refund.
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [order_id]
              properties:
                order_id:
                  type: string
                  description: Order to refund
                reason:
                  type: string
                  enum: [damaged, late]
      responses:
        "200":
          description: OK
`

func load(t *testing.T, baseURL string, optFns ...func(o *Options)) *Action {
	t.Helper()
	a, err := New(context.Background(), NewDataLoader(strings.NewReader(fmt.Sprintf(orderSpec, baseURL))), optFns...)
	require.NoError(t, err)
	return a
}

func TestNew_FirstOperation(t *testing.T) {
	a := load(t, "http://localhost")

	assert.Equal(t, "get_order", a.Name())
	assert.Equal(t, "Look up an order by id.", a.Description())
	assert.Equal(t, http.MethodGet, a.Method())

	props := a.Parameters()["properties"].(map[string]any)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "verbose")
	assert.Equal(t, []string{"id"}, a.Parameters()["required"])
}

func TestNew_Overrides(t *testing.T) {
	a := load(t, "http://localhost", func(o *Options) {
		o.Name = "order_lookup"
		o.Description = "Find orders"
	})
	assert.Equal(t, "order_lookup", a.Name())
	assert.Equal(t, "Find orders", a.Description())
}

func TestNew_InvalidDocument(t *testing.T) {
	_, err := New(context.Background(), NewDataLoader(strings.NewReader("openapi: 3.0.3\ninfo:\n  title: x\n")))
	assert.Error(t, err)

	_, err = New(context.Background(), nil)
	assert.Error(t, err)
}

func TestRun_PathQueryAndUnwrap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders/A%2F1", r.URL.EscapedPath())
		assert.Equal(t, "true", r.URL.Query().Get("verbose"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": {"data": {"status": "shipped"}}}`))
	}))
	defer srv.Close()

	a := load(t, srv.URL, func(o *Options) {
		o.Authentication = Authentication{Type: AuthBearer, Token: "secret"}
	})

	out, err := a.Run(context.Background(), map[string]any{"id": "A/1", "verbose": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "shipped"}, out)
	assert.JSONEq(t, `{"status":"shipped"}`, a.Render(out))
}

func TestRun_JSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "k-1", r.Header.Get("X-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"order_id": "42", "reason": "late"}, body)

		_, _ = w.Write([]byte("refund accepted"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "refund.yaml")
	spec := strings.Replace(fmt.Sprintf(orderSpec, srv.URL), "  /orders/{id}:", "  /zz/orders/{id}:", 1)
	require.NoError(t, os.WriteFile(path, []byte(spec), 0o600))

	a, err := New(context.Background(), NewFileLoader(path), func(o *Options) {
		o.Authentication = Authentication{Type: AuthAPIKey, Token: "k-1", Header: "X-Key"}
	})
	require.NoError(t, err)
	assert.Equal(t, "create_refund", a.Name())
	assert.Equal(t, []string{"order_id"}, a.Parameters()["required"])

	out, err := a.Run(context.Background(), map[string]any{"order_id": "42", "reason": "late", "ignored": 1})
	require.NoError(t, err)
	assert.Equal(t, "refund accepted", out)
}

func TestRun_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	a := load(t, srv.URL, func(o *Options) {
		o.Authentication = Authentication{Type: AuthBasic, Username: "u", Password: "p"}
	})

	_, err := a.Run(context.Background(), map[string]any{"id": "1"})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Contains(t, toolErr.Message, "HTTP 404")
}

func TestRun_ResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	a := load(t, srv.URL, func(o *Options) { o.MaxResponseBytes = 16 })

	_, err := a.Run(context.Background(), map[string]any{"id": "1"})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Message, "exceeds 16 bytes")

	exact := load(t, srv.URL, func(o *Options) { o.MaxResponseBytes = 64 })
	out, err := exact.Run(context.Background(), map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 64), out)
}

func TestRun_MissingPathParam(t *testing.T) {
	a := load(t, "http://localhost")
	_, err := a.Run(context.Background(), map[string]any{})
	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tool.CodeValidation, toolErr.Code)
}
