package config

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// AuthType selects how AuthConfig is rendered into headers.
type AuthType string

const (
	AuthNone   AuthType = ""
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// AuthConfig describes static credentials. It only produces headers; token
// refresh is left to whoever writes the config.
type AuthConfig struct {
	Type     AuthType `toml:"type"`
	Token    string   `toml:"token"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	APIKey   string   `toml:"api_key"`
	// Header receives the API key. Defaults to Authorization.
	Header string `toml:"header"`
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Render replaces {{NAME}} placeholders using lookup. Unknown names are left as is.
func Render(s string, lookup func(string) (string, bool)) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

// Headers renders the credentials into request headers.
func (a AuthConfig) Headers(lookup func(string) (string, bool)) (map[string]string, error) {
	switch AuthType(strings.ToLower(string(a.Type))) {
	case AuthNone:
		return nil, nil
	case AuthBearer:
		token := Render(a.Token, lookup)
		if token == "" {
			return nil, fmt.Errorf("auth type %q requires a token", a.Type)
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil
	case AuthBasic:
		user, pass := Render(a.Username, lookup), Render(a.Password, lookup)
		if user == "" {
			return nil, fmt.Errorf("auth type %q requires a username", a.Type)
		}
		cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return map[string]string{"Authorization": "Basic " + cred}, nil
	case AuthAPIKey:
		key := Render(a.APIKey, lookup)
		if key == "" {
			return nil, fmt.Errorf("auth type %q requires an api_key", a.Type)
		}
		header := a.Header
		if header == "" {
			header = "Authorization"
		}
		return map[string]string{header: key}, nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", a.Type)
	}
}
