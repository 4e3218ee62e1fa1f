package convert

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestConverter(schemas openapi3.Schemas) *Converter {
	doc := &openapi3.T{
		OpenAPI:    "3.0.3",
		Info:       &openapi3.Info{Title: "test", Version: "1"},
		Paths:      openapi3.NewPaths(),
		Components: &openapi3.Components{Schemas: schemas},
	}
	return NewConverter(NewParserWithDocument(doc), Options{})
}

func componentRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef(componentsSchemaPrefix+name, nil)
}

func TestConvertSchema_Primitives(t *testing.T) {
	c := newTestConverter(nil)
	maxLen := uint64(10)

	tests := []struct {
		name   string
		schema *openapi3.Schema
		want   map[string]any
	}{
		{
			name:   "string with format",
			schema: openapi3.NewStringSchema().WithFormat("date-time"),
			want:   map[string]any{"type": "string", "format": "date-time"},
		},
		{
			name:   "binary string becomes file reference",
			schema: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "binary", Description: "The upload"},
			want: map[string]any{
				"type":        "string",
				"format":      "uri-reference",
				"description": "The upload (absolute paths to local files)",
			},
		},
		{
			name:   "string validations",
			schema: &openapi3.Schema{Type: &openapi3.Types{"string"}, MaxLength: &maxLen, Pattern: "^a"},
			want:   map[string]any{"type": "string", "maxLength": uint64(10), "pattern": "^a"},
		},
		{
			name:   "integer with enum and default",
			schema: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32", Enum: []any{1, 2}, Default: 1},
			want:   map[string]any{"type": "integer", "format": "int32", "enum": []any{1, 2}, "default": 1},
		},
		{
			name:   "boolean",
			schema: openapi3.NewBoolSchema(),
			want:   map[string]any{"type": "boolean"},
		},
		{
			name:   "multiple types",
			schema: &openapi3.Schema{Type: &openapi3.Types{"string", "null"}},
			want:   map[string]any{"type": []string{"string", "null"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.convertSchema(openapi3.NewSchemaRef("", tt.schema), make(map[string]bool), false)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertSchema_Objects(t *testing.T) {
	c := newTestConverter(nil)

	open := c.convertSchema(openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
		WithProperty("name", openapi3.NewStringSchema())), make(map[string]bool), false)
	assert.Equal(t, true, open["additionalProperties"])

	closed := false
	schema := openapi3.NewObjectSchema()
	schema.Required = []string{"b", "a"}
	schema.AdditionalProperties = openapi3.AdditionalProperties{Has: &closed}
	got := c.convertSchema(openapi3.NewSchemaRef("", schema), make(map[string]bool), false)
	assert.Equal(t, false, got["additionalProperties"])
	assert.Equal(t, []string{"b", "a"}, got["required"])

	typed := openapi3.NewObjectSchema()
	typed.AdditionalProperties = openapi3.AdditionalProperties{Schema: openapi3.NewSchemaRef("", openapi3.NewIntegerSchema())}
	got = c.convertSchema(openapi3.NewSchemaRef("", typed), make(map[string]bool), false)
	assert.Equal(t, map[string]any{"type": "integer"}, got["additionalProperties"])

	// Properties without a declared type still describe an object.
	untyped := &openapi3.Schema{Properties: openapi3.Schemas{"x": openapi3.NewSchemaRef("", openapi3.NewStringSchema())}}
	got = c.convertSchema(openapi3.NewSchemaRef("", untyped), make(map[string]bool), false)
	assert.Equal(t, "object", got["type"])
}

func TestConvertSchema_Composition(t *testing.T) {
	c := newTestConverter(openapi3.Schemas{
		"Cat": openapi3.NewSchemaRef("", openapi3.NewObjectSchema()),
	})
	schema := &openapi3.Schema{
		OneOf: openapi3.SchemaRefs{componentRef("Cat"), openapi3.NewSchemaRef("", openapi3.NewStringSchema())},
		AnyOf: openapi3.SchemaRefs{openapi3.NewSchemaRef("", openapi3.NewIntegerSchema())},
		AllOf: openapi3.SchemaRefs{openapi3.NewSchemaRef("", openapi3.NewBoolSchema())},
		Not:   openapi3.NewSchemaRef("", openapi3.NewStringSchema()),
	}

	got := c.convertSchema(openapi3.NewSchemaRef("", schema), make(map[string]bool), false)
	assert.Equal(t, []any{map[string]any{"$ref": "#/$defs/Cat"}, map[string]any{"type": "string"}}, got["oneOf"])
	assert.Equal(t, []any{map[string]any{"type": "integer"}}, got["anyOf"])
	assert.Equal(t, []any{map[string]any{"type": "boolean"}}, got["allOf"])
	assert.Equal(t, map[string]any{"type": "string"}, got["not"])
	assert.NotContains(t, got, "type")
}

func TestConvertSchema_ResolveRefs(t *testing.T) {
	c := newTestConverter(openapi3.Schemas{
		"Tag": openapi3.NewSchemaRef("", openapi3.NewStringSchema()),
	})

	forward := c.convertSchema(componentRef("Tag"), make(map[string]bool), false)
	assert.Equal(t, map[string]any{"$ref": "#/$defs/Tag"}, forward)

	inlined := c.convertSchema(componentRef("Tag"), make(map[string]bool), true)
	assert.Equal(t, map[string]any{"type": "string"}, inlined)
	assert.Contains(t, c.schemaCache, componentsSchemaPrefix+"Tag")
}

func TestConvertSchema_SelfReference(t *testing.T) {
	node := openapi3.NewObjectSchema()
	node.Properties = openapi3.Schemas{
		"next": componentRef("Node"),
		"kids": openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: componentRef("Node")}),
	}
	c := newTestConverter(openapi3.Schemas{"Node": openapi3.NewSchemaRef("", node)})

	defs := c.definitions()
	props := defs["Node"].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"$ref": "#/$defs/Node"}, props["next"])
	assert.Equal(t, map[string]any{"$ref": "#/$defs/Node"}, props["kids"].(map[string]any)["items"])

	// Memoized.
	assert.Equal(t, fmt.Sprintf("%p", defs), fmt.Sprintf("%p", c.definitions()))
}

func TestDefinitions_CyclesTerminate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "schemas")

		schemas := make(openapi3.Schemas, n)
		for i := 0; i < n; i++ {
			targets := rapid.SliceOfN(rapid.IntRange(0, n-1), 1, 3).Draw(t, fmt.Sprintf("targets%d", i))
			props := make(openapi3.Schemas, len(targets))
			for j, target := range targets {
				ref := componentRef(fmt.Sprintf("S%d", target))
				if rapid.Bool().Draw(t, fmt.Sprintf("array%d_%d", i, j)) {
					ref = openapi3.NewSchemaRef("", &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: ref})
				}
				props[fmt.Sprintf("p%d", j)] = ref
			}
			schema := openapi3.NewObjectSchema()
			schema.Properties = props
			schemas[fmt.Sprintf("S%d", i)] = openapi3.NewSchemaRef("", schema)
		}

		defs := newTestConverter(schemas).definitions()
		if len(defs) != n {
			t.Fatalf("expected %d definitions, got %d", n, len(defs))
		}

		// Every schema points at another one, so some reference must stay a
		// forward reference for the output to be finite.
		data, err := json.Marshal(defs)
		if err != nil {
			t.Fatalf("definitions are not finite: %v", err)
		}
		if !strings.Contains(string(data), `"$ref":"#/$defs/S`) {
			t.Fatalf("no forward reference in %s", data)
		}
	})
}

func TestWithDescriptionCopies(t *testing.T) {
	shared := map[string]any{"$ref": "#/$defs/X"}
	got := withDescription(shared, "param")
	assert.Equal(t, "param", got["description"])
	assert.NotContains(t, shared, "description")
	require.NotNil(t, withDescription(nil, "x"))
}
