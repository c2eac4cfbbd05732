// Package publish uploads exported configurations to pre-signed URLs, such
// as those issued by S3 or GCS, so a run's exact configuration can be
// archived next to its results.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/pkcfg/internal/ctxlog"
	"github.com/vk/pkcfg/internal/experiment"
	"github.com/vk/pkcfg/internal/export"
	"github.com/vk/pkcfg/internal/netgraph"
	"resty.dev/v3"
)

// DefaultTimeout bounds a single upload.
const DefaultTimeout = 30 * time.Second

// Publisher uploads artifacts with HTTP PUT.
type Publisher struct {
	client *resty.Client
}

// Result describes a finished upload.
type Result struct {
	// URL is the target without its query, which holds the signature.
	URL        string
	Status     string
	StatusCode int
	Size       int
}

// New returns a publisher whose uploads time out after timeout, or
// DefaultTimeout when timeout is not positive.
func New(timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{client: resty.New().SetTimeout(timeout)}
}

// Put uploads body to target.
func (p *Publisher) Put(ctx context.Context, target, contentType string, body []byte) (Result, error) {
	res := Result{URL: redact(target), Size: len(body)}
	logger := ctxlog.FromContext(ctx).With("url", res.URL)

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	logger.Info("Uploading artifact", "size", len(body), "contentType", contentType)

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		Put(target)
	if err != nil {
		return res, fmt.Errorf("failed to upload to %s: %w", res.URL, err)
	}
	res.Status, res.StatusCode = resp.Status(), resp.StatusCode()
	if !resp.IsSuccess() {
		return res, fmt.Errorf("upload to %s failed with status: %s", res.URL, resp.Status())
	}
	logger.Info("Uploaded artifact", "status", res.Status)
	return res, nil
}

// PutExport renders x in format f and uploads it.
func (p *Publisher) PutExport(ctx context.Context, target string, f export.Format, x *experiment.Experiment, g *netgraph.Graph) (Result, error) {
	var buf bytes.Buffer
	if err := export.Write(&buf, f, x, g); err != nil {
		return Result{URL: redact(target)}, fmt.Errorf("failed to render %s: %w", f, err)
	}
	return p.Put(ctx, target, f.ContentType(), buf.Bytes())
}

// PutFile uploads the file at path. The content type follows the export
// format of its extension, or the system MIME table.
func (p *Publisher) PutFile(ctx context.Context, target, path string) (Result, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Result{URL: redact(target)}, fmt.Errorf("failed to read source file '%s': %w", path, err)
	}
	return p.Put(ctx, target, ContentTypeFor(path), body)
}

// ContentTypeFor picks the content type for a file name.
func ContentTypeFor(path string) string {
	if f, ok := export.FormatForPath(path); ok {
		return f.ContentType()
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
