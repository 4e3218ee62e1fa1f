package convert

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/phuslu/log"

	"github.com/zijiren233/openapi-mcp-proxy/logging"
)

// MaxToolNameLength is the longest tool name the protocol accepts.
const MaxToolNameLength = 64

// uniqueSuffixLength is the "-NNNN" counter appended to truncated names.
const uniqueSuffixLength = 5

const (
	componentsParameterPrefix   = "#/components/parameters/"
	componentsRequestBodyPrefix = "#/components/requestBodies/"
	componentsResponsePrefix    = "#/components/responses/"
)

type Options struct {
	ToolNamePrefix         string
	IncludeTags            []string
	ExcludeTags            []string
	SynthesizeOperationIDs bool
	Logger                 *log.Logger
}

// Tool is one converted operation as exposed to tool callers.
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	InputSchema  map[string]any `json:"inputSchema"`
	ReturnSchema map[string]any `json:"returnSchema,omitempty"`
}

// OperationInfo is the call-time metadata for one tool. It is immutable once
// Convert returns.
type OperationInfo struct {
	Operation *openapi3.Operation
	// Method is the upper-case HTTP method.
	Method string
	Path   string
	// Parameters are the resolved path-item and operation parameters.
	Parameters []*openapi3.Parameter
	// RequestBody is the resolved request body, or nil.
	RequestBody *openapi3.RequestBody
	FileFields  FieldSet
	// BodyWrapped is set when a non-object JSON body was exposed under "body".
	BodyWrapped bool
}

// Result holds the tool definitions in listing order and the lookup table
// keyed by tool name.
type Result struct {
	Tools  []Tool
	Lookup map[string]*OperationInfo
}

// Converter represents an OpenAPI to MCP converter
type Converter struct {
	parser  *Parser
	options Options
	logger  *log.Logger

	schemaCache map[string]map[string]any
	defs        map[string]any
	nameCounter int
}

// NewConverter creates a new OpenAPI to MCP converter
func NewConverter(parser *Parser, options Options) *Converter {
	return &Converter{
		parser:      parser,
		options:     options,
		logger:      logging.OrSilent(options.Logger),
		schemaCache: make(map[string]map[string]any),
	}
}

// Convert walks every operation once and returns the tool definitions and
// lookup table. Operations that cannot be converted are skipped with a log.
func (c *Converter) Convert() (*Result, error) {
	if c.parser.GetDocument() == nil {
		return nil, errors.New("no OpenAPI document loaded")
	}

	result := &Result{Lookup: make(map[string]*OperationInfo)}

	paths := c.parser.GetPaths()
	if paths == nil {
		return result, nil
	}
	pathMap := paths.Map()
	pathNames := make([]string, 0, len(pathMap))
	for path := range pathMap {
		pathNames = append(pathNames, path)
	}
	sort.Strings(pathNames)

	for _, path := range pathNames {
		pathItem := pathMap[path]
		if pathItem == nil {
			continue
		}
		for _, entry := range getOperations(pathItem) {
			if !c.includeOperation(entry.operation) {
				c.logger.Debug().Str("method", entry.method).Str("path", path).Msg("operation filtered by tags")
				continue
			}

			tool, info := c.convertOperation(path, entry.method, entry.operation, pathItem.Parameters)
			if tool == nil {
				continue
			}
			if _, dup := result.Lookup[tool.Name]; dup {
				c.logger.Warn().Str("tool", tool.Name).Str("method", entry.method).Str("path", path).
					Msg("duplicate tool name, skipping operation")
				continue
			}

			result.Tools = append(result.Tools, *tool)
			result.Lookup[tool.Name] = info
		}
	}

	c.logger.Info().Int("tools", len(result.Tools)).Msg("converted OpenAPI operations")
	return result, nil
}

type methodOperation struct {
	method    string
	operation *openapi3.Operation
}

// getOperations returns the operations of a path item in a fixed method order
func getOperations(pathItem *openapi3.PathItem) []methodOperation {
	candidates := []methodOperation{
		{"get", pathItem.Get},
		{"post", pathItem.Post},
		{"put", pathItem.Put},
		{"patch", pathItem.Patch},
		{"delete", pathItem.Delete},
		{"head", pathItem.Head},
		{"options", pathItem.Options},
		{"trace", pathItem.Trace},
	}

	operations := make([]methodOperation, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.operation != nil {
			operations = append(operations, candidate)
		}
	}
	return operations
}

func (c *Converter) includeOperation(operation *openapi3.Operation) bool {
	if len(c.options.IncludeTags) > 0 && !hasAnyTag(operation.Tags, c.options.IncludeTags) {
		return false
	}
	return !hasAnyTag(operation.Tags, c.options.ExcludeTags)
}

func hasAnyTag(tags, wanted []string) bool {
	for _, tag := range tags {
		for _, w := range wanted {
			if tag == w {
				return true
			}
		}
	}
	return false
}

// convertOperation converts an OpenAPI operation to a tool definition. It
// returns nil when the operation has no id to name the tool after.
func (c *Converter) convertOperation(path, method string, operation *openapi3.Operation, shared openapi3.Parameters) (*Tool, *OperationInfo) {
	operationID := operation.OperationID
	if operationID == "" {
		if !c.options.SynthesizeOperationIDs {
			c.logger.Warn().Str("method", method).Str("path", path).Msg("operation without operationId, skipping")
			return nil, nil
		}
		operationID = c.parser.GetOperationID(path, method, operation)
	}

	info := &OperationInfo{
		Operation:  operation,
		Method:     strings.ToUpper(method),
		Path:       path,
		Parameters: c.resolveParameters(shared, operation.Parameters),
		FileFields: FieldSet{},
	}

	properties := make(map[string]any)
	required := make([]string, 0)
	inputSchema := map[string]any{
		"type":       openapi3.TypeObject,
		"properties": properties,
	}

	for _, param := range info.Parameters {
		if param.Schema == nil {
			continue
		}
		paramSchema := c.convertSchema(param.Schema, make(map[string]bool), false)
		if param.Description != "" {
			paramSchema = withDescription(paramSchema, param.Description)
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = appendUnique(required, param.Name)
		}
	}

	if operation.RequestBody != nil {
		info.RequestBody = c.resolveRequestBody(operation.RequestBody)
		if info.RequestBody == nil {
			c.logger.Warn().Str("ref", operation.RequestBody.Ref).Str("operation", operationID).Msg("failed to resolve request body")
		}
	}
	if body := info.RequestBody; body != nil {
		if mediaType := body.Content[mimeMultipartForm]; mediaType != nil && mediaType.Schema != nil {
			info.FileFields = c.fileUploadFields(body)
			required = c.mergeBodySchema(mediaType.Schema, properties, required)
		} else if mediaType := jsonMediaType(body.Content); mediaType != nil && mediaType.Schema != nil {
			if c.isObjectSchema(mediaType.Schema) {
				required = c.mergeBodySchema(mediaType.Schema, properties, required)
			} else {
				properties["body"] = c.convertSchema(mediaType.Schema, make(map[string]bool), false)
				required = appendUnique(required, "body")
				info.BodyWrapped = true
			}
		}
	}

	inputSchema["required"] = required
	if defs := c.definitions(); len(defs) > 0 {
		inputSchema["$defs"] = defs
	}

	name := c.ensureUniqueName(c.options.ToolNamePrefix + operationID)

	return &Tool{
		Name:         name,
		Description:  c.operationDescription(operation),
		InputSchema:  inputSchema,
		ReturnSchema: c.returnSchema(operation.Responses),
	}, info
}

// mergeBodySchema copies the top-level properties and required names of an
// object body schema into the flat input schema.
func (c *Converter) mergeBodySchema(ref *openapi3.SchemaRef, properties map[string]any, required []string) []string {
	schema := c.derefSchema(ref)
	if schema == nil {
		c.logger.Error().Str("ref", ref.Ref).Msg("failed to resolve request body schema")
		return required
	}

	converted := c.convertSchemaValue(schema, make(map[string]bool), false)
	if props, ok := converted["properties"].(map[string]any); ok {
		for name, prop := range props {
			properties[name] = prop
		}
	}
	if names, ok := converted["required"].([]string); ok {
		for _, name := range names {
			required = appendUnique(required, name)
		}
	}
	return required
}

func (c *Converter) isObjectSchema(ref *openapi3.SchemaRef) bool {
	schema := c.derefSchema(ref)
	if schema == nil {
		return false
	}
	return typeIs(schema, openapi3.TypeObject) || (schema.Type == nil && len(schema.Properties) > 0)
}

// jsonMediaType prefers application/json and falls back to any other JSON
// flavoured media type in sorted order.
func jsonMediaType(content openapi3.Content) *openapi3.MediaType {
	if mediaType, ok := content["application/json"]; ok {
		return mediaType
	}
	keys := make([]string, 0, len(content))
	for key := range content {
		if strings.Contains(key, "json") {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return content[keys[0]]
}

// resolveParameters merges path-item parameters with operation parameters;
// the operation wins on the same (in, name) pair.
func (c *Converter) resolveParameters(shared, own openapi3.Parameters) []*openapi3.Parameter {
	type key struct{ in, name string }

	var params []*openapi3.Parameter
	index := make(map[key]int)
	add := func(refs openapi3.Parameters) {
		for _, ref := range refs {
			param := c.resolveParameter(ref)
			if param == nil {
				continue
			}
			k := key{param.In, param.Name}
			if i, ok := index[k]; ok {
				params[i] = param
				continue
			}
			index[k] = len(params)
			params = append(params, param)
		}
	}
	add(shared)
	add(own)
	return params
}

func (c *Converter) resolveParameter(ref *openapi3.ParameterRef) *openapi3.Parameter {
	if ref == nil {
		return nil
	}
	if ref.Value != nil {
		return ref.Value
	}
	if name, ok := strings.CutPrefix(ref.Ref, componentsParameterPrefix); ok {
		if components := c.parser.GetComponents(); components != nil {
			if p := components.Parameters[name]; p != nil && p.Value != nil {
				return p.Value
			}
		}
	}
	c.logger.Warn().Str("ref", ref.Ref).Msg("failed to resolve parameter")
	return nil
}

func (c *Converter) resolveRequestBody(ref *openapi3.RequestBodyRef) *openapi3.RequestBody {
	if ref.Value != nil {
		return ref.Value
	}
	if name, ok := strings.CutPrefix(ref.Ref, componentsRequestBodyPrefix); ok {
		if components := c.parser.GetComponents(); components != nil {
			if body := components.RequestBodies[name]; body != nil {
				return body.Value
			}
		}
	}
	return nil
}

func (c *Converter) resolveResponse(ref *openapi3.ResponseRef) *openapi3.Response {
	if ref == nil {
		return nil
	}
	if ref.Value != nil {
		return ref.Value
	}
	if name, ok := strings.CutPrefix(ref.Ref, componentsResponsePrefix); ok {
		if components := c.parser.GetComponents(); components != nil {
			if resp := components.Responses[name]; resp != nil {
				return resp.Value
			}
		}
	}
	return nil
}

// operationDescription returns the summary (or description), a deprecation
// warning, and the documented 4xx/5xx responses.
func (c *Converter) operationDescription(operation *openapi3.Operation) string {
	description := operation.Summary
	if description == "" {
		description = operation.Description
	}

	if operation.Deprecated {
		if description != "" {
			description += "\n\n"
		}
		description += "WARNING: This operation is deprecated."
	}

	if operation.Responses == nil {
		return description
	}

	respMap := operation.Responses.Map()
	codes := make([]string, 0, len(respMap))
	for code := range respMap {
		if strings.HasPrefix(code, "4") || strings.HasPrefix(code, "5") {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return description
	}
	sort.Strings(codes)

	lines := make([]string, 0, len(codes))
	for _, code := range codes {
		var errDesc string
		if resp := c.resolveResponse(respMap[code]); resp != nil && resp.Description != nil {
			errDesc = *resp.Description
		}
		lines = append(lines, fmt.Sprintf("%s: %s", code, errDesc))
	}

	return description + "\nError Responses:\n" + strings.Join(lines, "\n")
}

var successCodes = []string{"200", "201", "202", "204"}

// returnSchema describes the first documented success response.
func (c *Converter) returnSchema(responses *openapi3.Responses) map[string]any {
	if responses == nil {
		return nil
	}

	var resp *openapi3.Response
	for _, code := range successCodes {
		if ref := responses.Value(code); ref != nil {
			resp = c.resolveResponse(ref)
			break
		}
	}
	if resp == nil {
		return nil
	}

	var respDesc string
	if resp.Description != nil {
		respDesc = *resp.Description
	}

	if mediaType := jsonMediaType(resp.Content); mediaType != nil && mediaType.Schema != nil {
		schema := c.convertSchema(mediaType.Schema, make(map[string]bool), false)
		out := make(map[string]any, len(schema)+2)
		for k, v := range schema {
			out[k] = v
		}
		if defs := c.definitions(); len(defs) > 0 {
			out["$defs"] = defs
		}
		if _, ok := out["description"]; !ok && respDesc != "" {
			out["description"] = respDesc
		}
		return out
	}

	for contentType := range resp.Content {
		if strings.HasPrefix(contentType, "image/") {
			return map[string]any{
				"type":        openapi3.TypeString,
				"format":      binaryFormat,
				"description": respDesc,
			}
		}
	}

	return map[string]any{
		"type":        openapi3.TypeString,
		"description": respDesc,
	}
}

// ensureUniqueName leaves names within MaxToolNameLength untouched and
// truncates longer ones, appending a zero-padded counter.
func (c *Converter) ensureUniqueName(name string) string {
	if len(name) <= MaxToolNameLength {
		return name
	}

	c.nameCounter++
	return fmt.Sprintf("%s-%04d", truncateUTF8(name, MaxToolNameLength-uniqueSuffixLength), c.nameCounter)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// TruncateName hard-truncates a tool name to MaxToolNameLength.
func TruncateName(name string) string {
	return truncateUTF8(name, MaxToolNameLength)
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}
