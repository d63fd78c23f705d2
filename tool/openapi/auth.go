package openapi

import (
	"net/http"
)

// AuthType selects how requests are authenticated.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// defaultAPIKeyHeader is used when an API key auth has no header name.
const defaultAPIKeyHeader = "X-API-Key"

// Authentication describes the credentials attached to every request.
type Authentication struct {
	Type     AuthType `json:"type" yaml:"type"`
	Token    string   `json:"token,omitempty" yaml:"token,omitempty"` // bearer token or API key
	Username string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Header   string   `json:"header,omitempty" yaml:"header,omitempty"` // API key header name
}

func (a Authentication) apply(req *http.Request) {
	switch a.Type {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	case AuthAPIKey:
		header := a.Header
		if header == "" {
			header = defaultAPIKeyHeader
		}
		req.Header.Set(header, a.Token)
	}
}
