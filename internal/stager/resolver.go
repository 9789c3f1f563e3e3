package stager

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Resolver opens caller references of one family.
type Resolver interface {
	// DisplayName returns a best-effort human file name for ref.
	DisplayName(ctx context.Context, ref string) (string, error)
	// Open returns a readable stream of ref's content.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// FileResolver resolves file:// URIs and bare local paths.
type FileResolver struct{}

// DisplayName returns the base name of the referenced file.
func (FileResolver) DisplayName(_ context.Context, ref string) (string, error) {
	p, err := localPath(ref)
	if err != nil {
		return "", err
	}
	return filepath.Base(p), nil
}

// Open opens the referenced file.
func (FileResolver) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	p, err := localPath(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func localPath(ref string) (string, error) {
	if !strings.HasPrefix(ref, "file://") {
		return ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse file uri: %w", err)
	}
	if u.Path == "" {
		return "", fmt.Errorf("file uri has no path: %s", ref)
	}
	return filepath.FromSlash(u.Path), nil
}

// HTTPResolver resolves http:// and https:// references.
type HTTPResolver struct {
	Client *http.Client
}

func (r HTTPResolver) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

// DisplayName asks the server for Content-Disposition and falls back to the URL path.
func (r HTTPResolver) DisplayName(ctx context.Context, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, nil)
	if err == nil {
		if resp, err := r.client().Do(req); err == nil {
			_ = resp.Body.Close()
			if name := dispositionName(resp.Header.Get("Content-Disposition")); name != "" {
				return name, nil
			}
		}
	}

	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return "", nil
	}
	return base, nil
}

// Open issues a GET and returns the body.
func (r HTTPResolver) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func dispositionName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// resolverFor picks the resolver for ref's scheme.
func resolverFor(resolvers map[string]Resolver, ref string) (Resolver, error) {
	scheme := ""
	if i := strings.Index(ref, "://"); i > 0 {
		scheme = strings.ToLower(ref[:i])
	}
	if scheme == "" {
		scheme = "file"
	}
	r, ok := resolvers[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported reference scheme %q", scheme)
	}
	return r, nil
}

// DefaultResolvers returns the built-in resolver registry.
func DefaultResolvers() map[string]Resolver {
	return map[string]Resolver{
		"file":  FileResolver{},
		"http":  HTTPResolver{},
		"https": HTTPResolver{},
	}
}
