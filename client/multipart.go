package client

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/zijiren233/openapi-mcp-proxy/convert"
)

const mimeOctetStream = "application/octet-stream"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes args as form data. Values of file fields are local
// paths that are read fully and attached as file parts.
func encodeMultipart(args map[string]any, fileFields convert.FieldSet) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, name := range sortedKeys(args) {
		value := args[name]
		if value == nil {
			continue
		}

		if fileFields.Has(name) {
			paths, err := filePaths(name, value)
			if err != nil {
				return nil, "", err
			}
			for _, path := range paths {
				if err := attachFile(w, name, path); err != nil {
					return nil, "", err
				}
			}
			continue
		}

		if err := w.WriteField(name, stringify(value)); err != nil {
			return nil, "", newError(KindOperation, err, "failed to write form field %q", name)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", newError(KindOperation, err, "failed to finish multipart body")
	}
	return &buf, w.FormDataContentType(), nil
}

func filePaths(field string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		paths := make([]string, 0, len(v))
		for _, item := range v {
			path, ok := item.(string)
			if !ok {
				return nil, newError(KindFile, nil, "file field %q must contain file paths, got %T", field, item)
			}
			paths = append(paths, path)
		}
		return paths, nil
	default:
		return nil, newError(KindFile, nil, "file field %q must be a file path or a list of file paths, got %T", field, value)
	}
}

func attachFile(w *multipart.Writer, field, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(KindFile, err, "File not found: %s", path)
		}
		return newError(KindFile, err, "failed to read file %s", path)
	}

	contentType, err := detectContentType(path)
	if err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filepath.Base(path))))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return newError(KindOperation, err, "failed to create form part %q", field)
	}
	if _, err := part.Write(data); err != nil {
		return newError(KindOperation, err, "failed to write form part %q", field)
	}
	return nil
}

// detectContentType guesses from the file extension and falls back to
// application/octet-stream.
func detectContentType(path string) (string, error) {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		return mimeOctetStream, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", newError(KindFile, err, "invalid MIME type for %s", path)
	}
	return mime.FormatMediaType(mediaType, params), nil
}
