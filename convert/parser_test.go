package convert

import (
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ParseFile(t *testing.T) {
	p := loadFixture(t)

	require.NotNil(t, p.GetDocument())
	assert.Equal(t, "Items API", p.GetInfo().Title)
	assert.Equal(t, "1.2.3", p.GetInfo().Version)
	assert.Len(t, p.GetPaths().Map(), 5)
	assert.Len(t, p.GetServers(), 1)
	assert.Contains(t, p.GetComponents().Schemas, "Item")
}

func TestParser_Errors(t *testing.T) {
	p := NewParser()
	assert.Error(t, p.ParseFile("testdata/does-not-exist.json"))
	assert.Error(t, p.Parse([]byte(`{"openapi": "3.0.0", "paths": `)))
	assert.Nil(t, p.GetDocument())
	assert.Nil(t, p.GetPaths())
	assert.Nil(t, p.GetInfo())
	assert.Nil(t, p.GetComponents())
}

func TestParser_ParseYAML(t *testing.T) {
	doc := `
openapi: 3.0.0
info:
  title: YAML API
  version: "2"
paths:
  /health:
    get:
      operationId: health
      responses:
        "200":
          description: ok
`
	p := NewParser()
	require.NoError(t, p.Parse([]byte(doc)))
	assert.Equal(t, "YAML API", p.GetInfo().Title)
	assert.NotNil(t, p.GetPaths().Value("/health"))
}

func TestParser_ParseV2(t *testing.T) {
	doc := `{
		"swagger": "2.0",
		"info": {"title": "Legacy", "version": "0.1"},
		"host": "legacy.example.com",
		"basePath": "/api",
		"schemes": ["https"],
		"paths": {
			"/pets/{petId}": {
				"get": {
					"operationId": "getPet",
					"parameters": [{"name": "petId", "in": "path", "required": true, "type": "string"}],
					"responses": {"200": {"description": "a pet"}}
				}
			}
		}
	}`
	p := NewParser()
	require.NoError(t, p.ParseV2([]byte(doc)))

	base, err := p.BaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example.com/api", base)

	result, err := NewConverter(p, Options{}).Convert()
	require.NoError(t, err)
	require.Contains(t, result.Lookup, "getPet")
	assert.Equal(t, []string{"petId"}, result.Tools[0].InputSchema["required"])
}

func TestParser_BaseURL(t *testing.T) {
	p := loadFixture(t)

	base, err := p.BaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", base)

	base, err = p.BaseURL("http://localhost:9000")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", base)

	_, err = p.BaseURL("/relative")
	assert.Error(t, err)
}

func TestParser_BaseURLServerVariables(t *testing.T) {
	p := NewParserWithDocument(&openapi3.T{
		Servers: openapi3.Servers{{
			URL: "https://{region}.example.com/{version}",
			Variables: map[string]*openapi3.ServerVariable{
				"region":  {Default: "eu"},
				"version": {Default: "v2"},
			},
		}},
	})

	base, err := p.BaseURL("")
	require.NoError(t, err)
	assert.Equal(t, "https://eu.example.com/v2", base)
}

func TestParser_BaseURLMissing(t *testing.T) {
	p := NewParserWithDocument(&openapi3.T{})
	_, err := p.BaseURL("")
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestParser_GetOperationID(t *testing.T) {
	p := NewParser()
	tests := []struct {
		path, method, want string
		op                 *openapi3.Operation
	}{
		{"/users/{id}/posts", "GET", "get_users_id_posts", &openapi3.Operation{}},
		{"/", "post", "post_root", &openapi3.Operation{}},
		{"/users", "get", "listUsers", &openapi3.Operation{OperationID: "listUsers"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.GetOperationID(tt.path, tt.method, tt.op))
	}
}
