package convert

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
)

// ErrNoBaseURL is returned when neither an override nor a server entry
// provides the API base URL.
var ErrNoBaseURL = errors.New("no base URL: set one in config or declare a server in the document")

// Parser represents an OpenAPI parser
type Parser struct {
	doc *openapi3.T
}

// NewParser creates a new OpenAPI parser
func NewParser() *Parser {
	return &Parser{}
}

// NewParserWithDocument wraps an already decoded document.
func NewParserWithDocument(doc *openapi3.T) *Parser {
	return &Parser{doc: doc}
}

// ParseFile parses an OpenAPI document from a file
func (p *Parser) ParseFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read OpenAPI file: %w", err)
	}

	return p.Parse(data)
}

// ParseFileV2 parses a Swagger 2.0 document from a file and converts it to OpenAPI 3.
func (p *Parser) ParseFileV2(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read OpenAPI file: %w", err)
	}

	return p.ParseV2(data)
}

// Parse parses an OpenAPI document from bytes
func (p *Parser) Parse(data []byte) error {
	loader := openapi3.NewLoader()

	// Parse the document (loader can handle both JSON and YAML)
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}
	if doc.Paths == nil {
		return errors.New("failed to parse OpenAPI document: no paths")
	}

	p.doc = doc
	return nil
}

// ParseV2 parses a Swagger 2.0 JSON document and converts it to OpenAPI 3.
func (p *Parser) ParseV2(data []byte) error {
	var doc2 openapi2.T
	err := doc2.UnmarshalJSON(data)
	if err != nil {
		return fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}

	doc3, err := openapi2conv.ToV3(&doc2)
	if err != nil {
		return fmt.Errorf("failed to convert OpenAPI document: %w", err)
	}

	p.doc = doc3
	return nil
}

// GetDocument returns the parsed OpenAPI document
func (p *Parser) GetDocument() *openapi3.T {
	return p.doc
}

// GetPaths returns all paths in the OpenAPI document
func (p *Parser) GetPaths() *openapi3.Paths {
	if p.doc == nil {
		return nil
	}
	return p.doc.Paths
}

// GetServers returns all servers in the OpenAPI document
func (p *Parser) GetServers() []*openapi3.Server {
	if p.doc == nil {
		return nil
	}
	return p.doc.Servers
}

// GetInfo returns the info section of the OpenAPI document
func (p *Parser) GetInfo() *openapi3.Info {
	if p.doc == nil {
		return nil
	}
	return p.doc.Info
}

// GetComponents returns the components section, which may be nil.
func (p *Parser) GetComponents() *openapi3.Components {
	if p.doc == nil {
		return nil
	}
	return p.doc.Components
}

// BaseURL returns override when set, otherwise the first declared server with
// its variables replaced by their defaults. The result must be absolute.
func (p *Parser) BaseURL(override string) (string, error) {
	base := override
	if base == "" {
		servers := p.GetServers()
		if len(servers) == 0 || servers[0] == nil || servers[0].URL == "" {
			return "", ErrNoBaseURL
		}
		base = expandServerVariables(servers[0])
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q must be absolute", base)
	}
	return base, nil
}

func expandServerVariables(server *openapi3.Server) string {
	result := server.URL
	for name, variable := range server.Variables {
		if variable == nil {
			continue
		}
		result = strings.ReplaceAll(result, "{"+name+"}", variable.Default)
	}
	return result
}

// GetOperationID generates an operation ID if one is not provided
func (p *Parser) GetOperationID(path string, method string, operation *openapi3.Operation) string {
	if operation.OperationID != "" {
		return operation.OperationID
	}

	// Generate an operation ID based on the path and method
	pathName := strings.Trim(path, "/")
	if pathName == "" {
		pathName = "root"
	} else {
		pathName = strings.ReplaceAll(pathName, "/", "_")
		pathName = strings.ReplaceAll(pathName, "{", "")
		pathName = strings.ReplaceAll(pathName, "}", "")
	}

	return fmt.Sprintf("%s_%s", strings.ToLower(method), pathName)
}
