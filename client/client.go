// Package client executes converted operations against the upstream API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/phuslu/log"
	"golang.org/x/net/http/httpguts"

	"github.com/zijiren233/openapi-mcp-proxy/convert"
	"github.com/zijiren233/openapi-mcp-proxy/logging"
)

const mimeJSON = "application/json"

// Config configures a Client.
type Config struct {
	BaseURL string
	// Headers are attached to every request and take precedence over header
	// parameters supplied by callers.
	Headers    map[string]string
	UserAgent  string
	HTTPClient *http.Client
}

// Response is a successful upstream response.
type Response struct {
	// Data is the decoded JSON body, the raw text body, or nil when empty.
	Data    any
	Status  int
	Headers http.Header
}

// Client turns tool arguments into HTTP requests. It holds no per-call state
// and is safe for concurrent use.
type Client struct {
	baseURL    string
	headers    http.Header
	httpClient *http.Client
	logger     *log.Logger
}

// New creates a Client. Static header names and values are validated up front.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	headers := make(http.Header)
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}
	for name, value := range cfg.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("invalid value for header %q", name)
		}
		headers.Set(name, value)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		headers:    headers,
		httpClient: httpClient,
		logger:     logging.OrSilent(logger),
	}, nil
}

// Execute performs op once with args. Declared parameters are placed in the
// path, query or headers; what remains becomes the body.
func (c *Client) Execute(ctx context.Context, op *convert.OperationInfo, args map[string]any) (*Response, error) {
	remaining := maps.Clone(args)
	if remaining == nil {
		remaining = make(map[string]any)
	}

	path := op.Path
	query := url.Values{}
	paramHeaders := make(http.Header)

	for _, param := range op.Parameters {
		// A name may be declared in several locations; each one sees the
		// caller's value.
		value, ok := args[param.Name]
		delete(remaining, param.Name)
		if !ok || value == nil {
			if param.In == openapi3.ParameterInPath {
				return nil, newError(KindOperation, nil, "missing path parameter %q", param.Name)
			}
			continue
		}

		switch param.In {
		case openapi3.ParameterInPath:
			path = strings.ReplaceAll(path, "{"+param.Name+"}", escapePathSegment(stringify(value)))
		case openapi3.ParameterInQuery:
			addQueryValue(query, param.Name, value)
		case openapi3.ParameterInHeader:
			headerValue := stringify(value)
			if !httpguts.ValidHeaderFieldName(param.Name) || !httpguts.ValidHeaderFieldValue(headerValue) {
				return nil, newError(KindOperation, nil, "invalid header parameter %q", param.Name)
			}
			paramHeaders.Set(param.Name, headerValue)
		case openapi3.ParameterInCookie:
			c.logger.Debug().Str("parameter", param.Name).Msg("cookie parameter is not sent")
		}
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case len(op.FileFields) > 0:
		buf, ct, err := encodeMultipart(remaining, op.FileFields)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case hasBody(op.Method) && len(remaining) > 0:
		if op.RequestBody == nil {
			// No declared body: extra arguments ride on the query string.
			for _, name := range sortedKeys(remaining) {
				addQueryValue(query, name, remaining[name])
			}
			break
		}

		var payload any = remaining
		if op.BodyWrapped {
			payload = remaining["body"]
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, newError(KindJSON, err, "failed to marshal request body")
		}
		body, contentType = bytes.NewReader(data), requestContentType(op.RequestBody)
	}

	fullURL, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, newError(KindOperation, err, "failed to join URL path %s", path)
	}
	parsedURL, err := url.Parse(fullURL)
	if err != nil {
		return nil, newError(KindOperation, err, "failed to parse URL %s", fullURL)
	}
	if len(query) > 0 {
		parsedURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, parsedURL.String(), body)
	if err != nil {
		return nil, newError(KindOperation, err, "failed to create HTTP request")
	}
	for name, values := range paramHeaders {
		req.Header[name] = values
	}
	for name, values := range c.headers {
		req.Header[name] = append([]string(nil), values...)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", parsedURL.Redacted()).
		Msg("upstream request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Error().Err(err).Str("method", req.Method).Str("path", op.Path).Dur("duration", duration).Msg("upstream request failed")
		return nil, newError(KindTransport, err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransport, err, "failed to read response")
	}

	c.logger.Debug().
		Int("status_code", resp.StatusCode).
		Dur("duration", duration).
		Int("bytes", len(raw)).
		Msg("upstream response")

	data, decodeErr := decodeBody(resp.Header.Get("Content-Type"), raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr != nil {
			data = string(raw)
		}
		return nil, &Error{
			Kind:    KindRequestFailed,
			Message: fmt.Sprintf("HTTP %d error", resp.StatusCode),
			Status:  resp.StatusCode,
			Data:    data,
			Headers: resp.Header,
		}
	}
	if decodeErr != nil {
		return nil, newError(KindTransport, decodeErr, "malformed JSON response")
	}

	return &Response{Data: data, Status: resp.StatusCode, Headers: resp.Header}, nil
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// requestContentType prefers application/json, then any other declared JSON
// media type.
func requestContentType(body *openapi3.RequestBody) string {
	if _, ok := body.Content[mimeJSON]; ok {
		return mimeJSON
	}
	for _, key := range sortedKeys(map[string]*openapi3.MediaType(body.Content)) {
		if isJSONMediaType(key) {
			return key
		}
	}
	return mimeJSON
}

func isJSONMediaType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == mimeJSON || strings.HasSuffix(mediaType, "+json")
}

// decodeBody returns JSON bodies decoded (numbers kept exact), other bodies as
// text, and nil for an empty body.
func decodeBody(contentType string, raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if !isJSONMediaType(contentType) {
		return string(raw), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func addQueryValue(query url.Values, name string, value any) {
	switch v := value.(type) {
	case nil:
	case []any:
		for _, item := range v {
			query.Add(name, stringify(item))
		}
	case []string:
		for _, item := range v {
			query.Add(name, item)
		}
	default:
		query.Add(name, stringify(value))
	}
}

// stringify renders a JSON argument for a path, query, header or form field.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// escapePathSegment escapes a path value so it stays one segment.
func escapePathSegment(s string) string {
	switch s {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
