package opsclient

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"path"
	"strings"
)

// UploadConfig bounds file uploads.
type UploadConfig struct {
	MaxBytes int64 `yaml:"maxBytes" env:"OPSCLIENT_UPLOAD_MAX_BYTES"`
	// AllowedTypes lists accepted content types; "image/*" style wildcards
	// match a whole family. Empty accepts everything.
	AllowedTypes []string `yaml:"allowedTypes"`
}

// DefaultUploadConfig allows 10 MiB of images, PDFs and spreadsheets.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxBytes: defaultMaxUploadBytes,
		AllowedTypes: []string{
			"image/*",
			"application/pdf",
			"text/csv",
			"application/json",
			"application/zip",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		},
	}
}

// File is an upload payload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

func (u UploadConfig) validate(f File) error {
	if f.Name == "" {
		return validationError("upload requires a file name")
	}
	size := int64(len(f.Data))
	if size == 0 {
		return validationError("file %q is empty", f.Name)
	}
	if u.MaxBytes > 0 && size > u.MaxBytes {
		return validationError("file %q is %d bytes, limit is %d", f.Name, size, u.MaxBytes)
	}
	if !u.allows(f.ContentType) {
		return validationError("content type %q is not allowed for %q", f.ContentType, f.Name)
	}
	return nil
}

func (u UploadConfig) allows(contentType string) bool {
	if len(u.AllowedTypes) == 0 {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ct == "" {
		return false
	}
	for _, allowed := range u.AllowedTypes {
		allowed = strings.ToLower(allowed)
		if allowed == ct {
			return true
		}
		if family, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(ct, family+"/") {
			return true
		}
	}
	return false
}

// UploadFile validates f and sends it to target. Storage targets are
// written to the object store; a target naming only a bucket stores the
// file under its name. HTTP targets receive a multipart form with the file
// in the "file" field plus fields. Validation failures are never retried.
func (c *Client) UploadFile(ctx context.Context, target string, f File, fields map[string]string) (*Response, error) {
	req := NewRequest(MethodPost, target)

	if err := c.upload.validate(f); err != nil {
		return nil, c.reject(req, err)
	}

	if req.Transport.Kind == TransportStorage {
		if req.Transport.Key == "" {
			req.Target = strings.TrimSuffix(target, "/") + "/" + path.Base(f.Name)
			req.Transport = ResolveTransport(req.Target)
		}
		return c.Do(ctx, req.WithBody(RawBody{Data: f.Data, ContentType: f.ContentType}))
	}

	body, contentType, err := multipartBody(f, fields)
	if err != nil {
		return nil, c.reject(req, validationError("encode upload: %v", err))
	}
	return c.Do(ctx, req.WithBody(RawBody{Data: body, ContentType: contentType}))
}

func multipartBody(f File, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, path.Base(f.Name)))
	h.Set("Content-Type", f.ContentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
