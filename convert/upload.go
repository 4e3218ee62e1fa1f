package convert

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

const mimeMultipartForm = "multipart/form-data"

// FieldSet is a set of multipart field names that carry file payloads.
type FieldSet map[string]struct{}

// Has reports whether name is a file field.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the field names in sorted order.
func (s FieldSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FileUploadFields returns the multipart/form-data properties of op that are
// binary strings or arrays of them. Other content types are ignored. Only
// schemas already resolved by the loader are inspected.
func FileUploadFields(op *openapi3.Operation) FieldSet {
	if op == nil || op.RequestBody == nil {
		return FieldSet{}
	}
	return detectFileFields(op.RequestBody.Value, schemaValue)
}

// fileUploadFields is FileUploadFields for a resolved body, following
// component references the loader left unresolved.
func (c *Converter) fileUploadFields(body *openapi3.RequestBody) FieldSet {
	return detectFileFields(body, c.derefSchema)
}

func schemaValue(ref *openapi3.SchemaRef) *openapi3.Schema {
	if ref == nil {
		return nil
	}
	return ref.Value
}

func detectFileFields(body *openapi3.RequestBody, deref func(*openapi3.SchemaRef) *openapi3.Schema) FieldSet {
	fields := FieldSet{}
	if body == nil {
		return fields
	}

	mediaType := body.Content[mimeMultipartForm]
	if mediaType == nil || mediaType.Schema == nil {
		return fields
	}
	schema := deref(mediaType.Schema)
	if schema == nil {
		return fields
	}
	for name, propRef := range schema.Properties {
		if isFileSchema(propRef, deref, 0) {
			fields[name] = struct{}{}
		}
	}
	return fields
}

// maxFileSchemaDepth bounds array nesting for self-referential item schemas.
const maxFileSchemaDepth = 8

func isFileSchema(ref *openapi3.SchemaRef, deref func(*openapi3.SchemaRef) *openapi3.Schema, depth int) bool {
	if depth > maxFileSchemaDepth {
		return false
	}
	schema := deref(ref)
	if schema == nil {
		return false
	}

	switch {
	case typeIs(schema, openapi3.TypeString):
		return schema.Format == binaryFormat
	case typeIs(schema, openapi3.TypeArray):
		return isFileSchema(schema.Items, deref, depth+1)
	}
	return false
}
