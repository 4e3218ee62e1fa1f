package convert

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	componentsSchemaPrefix = "#/components/schemas/"
	defsPrefix             = "#/$defs/"

	binaryFormat      = "binary"
	fileRefFormat     = "uri-reference"
	fileReferenceNote = "absolute paths to local files"
)

// forwardRef points into the shared $defs table instead of inlining.
func forwardRef(ref string) map[string]any {
	return map[string]any{
		"$ref": strings.Replace(ref, componentsSchemaPrefix, defsPrefix, 1),
	}
}

// convertSchema converts one schema reference into a JSON Schema node.
//
// With resolveRefs unset, component references become forward references.
// With it set, a reference is expanded once per pass; one that is re-entered
// while still in resolving becomes a forward reference, so cycles terminate.
func (c *Converter) convertSchema(ref *openapi3.SchemaRef, resolving map[string]bool, resolveRefs bool) map[string]any {
	if ref == nil {
		return map[string]any{}
	}
	if ref.Ref != "" {
		return c.convertRef(ref.Ref, resolving, resolveRefs)
	}
	if ref.Value == nil {
		return map[string]any{}
	}
	return c.convertSchemaValue(ref.Value, resolving, resolveRefs)
}

func (c *Converter) convertRef(ref string, resolving map[string]bool, resolveRefs bool) map[string]any {
	if !resolveRefs {
		if strings.HasPrefix(ref, componentsSchemaPrefix) {
			return forwardRef(ref)
		}
		c.logger.Error().Str("ref", ref).Msg("attempting to resolve ref not found in components collection")
	}

	if cached, ok := c.schemaCache[ref]; ok {
		return cached
	}
	if resolving[ref] {
		return forwardRef(ref)
	}
	resolving[ref] = true

	schema := c.lookupSchema(ref)
	if schema == nil {
		c.logger.Error().Str("ref", ref).Msg("failed to resolve ref")
		return forwardRef(ref)
	}

	converted := c.convertSchemaValue(schema, resolving, resolveRefs)
	c.schemaCache[ref] = converted
	return converted
}

// lookupSchema resolves #/components/schemas/<name> against the document.
func (c *Converter) lookupSchema(ref string) *openapi3.Schema {
	name, ok := strings.CutPrefix(ref, componentsSchemaPrefix)
	if !ok {
		return nil
	}
	components := c.parser.GetComponents()
	if components == nil {
		return nil
	}
	schemaRef := components.Schemas[name]
	if schemaRef == nil {
		return nil
	}
	return schemaRef.Value
}

func (c *Converter) convertSchemaValue(schema *openapi3.Schema, resolving map[string]bool, resolveRefs bool) map[string]any {
	property := make(map[string]any)

	switch {
	case typeIs(schema, openapi3.TypeObject) || (schema.Type == nil && len(schema.Properties) > 0):
		property["type"] = openapi3.TypeObject

		if len(schema.Properties) > 0 {
			properties := make(map[string]any, len(schema.Properties))
			for name, propRef := range schema.Properties {
				properties[name] = c.convertSchema(propRef, resolving, resolveRefs)
			}
			property["properties"] = properties
		}
		if len(schema.Required) > 0 {
			property["required"] = slices.Clone(schema.Required)
		}

		switch {
		case schema.AdditionalProperties.Schema != nil:
			property["additionalProperties"] = c.convertSchema(schema.AdditionalProperties.Schema, resolving, resolveRefs)
		case schema.AdditionalProperties.Has != nil:
			property["additionalProperties"] = *schema.AdditionalProperties.Has
		default:
			property["additionalProperties"] = true
		}

		// Object validations
		if schema.MinProps != 0 {
			property["minProperties"] = schema.MinProps
		}
		if schema.MaxProps != nil {
			property["maxProperties"] = *schema.MaxProps
		}

	case typeIs(schema, openapi3.TypeArray) || (schema.Type == nil && schema.Items != nil):
		property["type"] = openapi3.TypeArray
		if schema.Items != nil {
			property["items"] = c.convertSchema(schema.Items, resolving, resolveRefs)
		}

		// Array validations
		if schema.MinItems != 0 {
			property["minItems"] = schema.MinItems
		}
		if schema.MaxItems != nil {
			property["maxItems"] = *schema.MaxItems
		}
		if schema.UniqueItems {
			property["uniqueItems"] = true
		}

	case typeIs(schema, openapi3.TypeString):
		property["type"] = openapi3.TypeString
		if schema.Format == binaryFormat {
			// Binary payloads travel as local file paths.
			property["format"] = fileRefFormat
			description := fileReferenceNote
			if schema.Description != "" {
				description = schema.Description + " (" + fileReferenceNote + ")"
			}
			property["description"] = description
		} else if schema.Format != "" {
			property["format"] = schema.Format
		}

		// String validations
		if schema.MinLength != 0 {
			property["minLength"] = schema.MinLength
		}
		if schema.MaxLength != nil {
			property["maxLength"] = *schema.MaxLength
		}
		if schema.Pattern != "" {
			property["pattern"] = schema.Pattern
		}

	case typeIs(schema, openapi3.TypeNumber), typeIs(schema, openapi3.TypeInteger):
		property["type"] = (*schema.Type)[0]
		if schema.Format != "" {
			property["format"] = schema.Format
		}

		// Number validations
		if schema.Min != nil {
			property["minimum"] = *schema.Min
		}
		if schema.Max != nil {
			property["maximum"] = *schema.Max
		}
		if schema.MultipleOf != nil {
			property["multipleOf"] = *schema.MultipleOf
		}

	case typeIs(schema, openapi3.TypeBoolean):
		property["type"] = openapi3.TypeBoolean

	case schema.Type != nil && len(*schema.Type) > 1:
		property["type"] = slices.Clone([]string(*schema.Type))
	}

	// Schema composition
	if len(schema.OneOf) > 0 {
		property["oneOf"] = c.convertSchemaRefs(schema.OneOf, resolving, resolveRefs)
	}
	if len(schema.AnyOf) > 0 {
		property["anyOf"] = c.convertSchemaRefs(schema.AnyOf, resolving, resolveRefs)
	}
	if len(schema.AllOf) > 0 {
		property["allOf"] = c.convertSchemaRefs(schema.AllOf, resolving, resolveRefs)
	}
	if schema.Not != nil {
		property["not"] = c.convertSchema(schema.Not, resolving, resolveRefs)
	}

	// Basic metadata
	if _, ok := property["description"]; !ok && schema.Description != "" {
		property["description"] = schema.Description
	}
	if schema.Title != "" {
		property["title"] = schema.Title
	}
	if schema.Default != nil {
		property["default"] = schema.Default
	}
	if len(schema.Enum) > 0 {
		property["enum"] = slices.Clone(schema.Enum)
	}
	if schema.Nullable {
		property["nullable"] = true
	}
	if schema.Deprecated {
		property["deprecated"] = true
	}

	return property
}

func (c *Converter) convertSchemaRefs(refs openapi3.SchemaRefs, resolving map[string]bool, resolveRefs bool) []any {
	out := make([]any, 0, len(refs))
	for _, ref := range refs {
		out = append(out, c.convertSchema(ref, resolving, resolveRefs))
	}
	return out
}

// definitions converts every component schema into the shared $defs table.
// The table is built once per Converter.
func (c *Converter) definitions() map[string]any {
	if c.defs != nil {
		return c.defs
	}
	c.defs = make(map[string]any)

	components := c.parser.GetComponents()
	if components == nil {
		return c.defs
	}

	names := make([]string, 0, len(components.Schemas))
	for name := range components.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schemaRef := components.Schemas[name]
		if schemaRef == nil {
			continue
		}
		resolving := map[string]bool{componentsSchemaPrefix + name: true}
		c.defs[name] = c.convertSchema(schemaRef, resolving, true)
	}
	return c.defs
}

// derefSchema returns the value behind a top-level component reference so a
// body schema can be merged by its properties.
func (c *Converter) derefSchema(ref *openapi3.SchemaRef) *openapi3.Schema {
	if ref == nil {
		return nil
	}
	if ref.Value != nil {
		return ref.Value
	}
	if ref.Ref != "" {
		return c.lookupSchema(ref.Ref)
	}
	return nil
}

func typeIs(schema *openapi3.Schema, t string) bool {
	return schema != nil && schema.Type != nil && schema.Type.Is(t)
}

// withDescription returns a shallow copy of node with description set.
func withDescription(node map[string]any, description string) map[string]any {
	out := maps.Clone(node)
	if out == nil {
		out = make(map[string]any)
	}
	out["description"] = description
	return out
}
