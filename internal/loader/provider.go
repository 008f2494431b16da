package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"hochat/internal/engine"
)

// Provider resolves manifests and weight files from a Hugging Face style
// host: <base>/<modelID>/resolve/main/<name>.
type Provider struct {
	BaseURL      string
	ManifestFile string
	HTTPClient   *http.Client
	// Token returns the current access token; empty means anonymous.
	Token func() string
}

func (p *Provider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *Provider) fileURL(modelID, name string) string {
	segs := strings.Split(name, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(p.BaseURL, "/") + "/" + url.PathEscape(modelID) + "/resolve/main/" + strings.Join(segs, "/")
}

func (p *Provider) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if p.Token != nil {
		if tok := strings.TrimSpace(p.Token()); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return p.client().Do(req)
}

type manifestDoc struct {
	Records []struct {
		DataPath string `json:"dataPath"`
	} `json:"records"`
}

// Manifest fetches the ordered, de-duplicated list of file names required
// for modelID. Any failure is a *ManifestFetchError.
func (p *Provider) Manifest(ctx context.Context, modelID string) ([]string, error) {
	u := p.fileURL(modelID, p.ManifestFile)
	fail := func(status int, err error) error {
		return &ManifestFetchError{ModelID: modelID, URL: u, Status: status, Err: err}
	}
	resp, err := p.get(ctx, u)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fail(resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}
	var doc manifestDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("decode manifest: %w", err))
	}
	seen := make(map[string]struct{}, len(doc.Records))
	files := make([]string, 0, len(doc.Records))
	for _, r := range doc.Records {
		name := strings.TrimSpace(r.DataPath)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		files = append(files, name)
	}
	return files, nil
}

// Source returns the network weight source for modelID.
func (p *Provider) Source(modelID string) engine.Source {
	return &remoteSource{p: p, modelID: modelID}
}

type remoteSource struct {
	p       *Provider
	modelID string
}

func (s *remoteSource) Kind() string { return "remote" }

func (s *remoteSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := s.p.get(ctx, s.p.fileURL(s.modelID, name))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", name, resp.Status)
	}
	if resp.ContentLength >= 0 {
		return &sizedBody{ReadCloser: resp.Body, size: resp.ContentLength}, nil
	}
	return resp.Body, nil
}

// sizedBody lets the cache tier upload a response in one request.
type sizedBody struct {
	io.ReadCloser
	size int64
}

func (b *sizedBody) Size() int64 { return b.size }
