// Package media fetches template header assets so they can be uploaded to the
// gateway.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MaxAssetSize caps the bytes read for one asset.
const MaxAssetSize = 16 << 20

// Asset is a fetched header asset.
type Asset struct {
	Data     []byte
	MimeType string
}

// Resolver fetches the asset a template header refers to.
type Resolver interface {
	Fetch(ctx context.Context, ref string) (*Asset, error)
}

// Mux dispatches on the reference's URL scheme.
type Mux struct {
	resolvers map[string]Resolver
}

func NewMux() *Mux {
	return &Mux{resolvers: map[string]Resolver{}}
}

// Handle registers r for a scheme such as "s3" or "https".
func (m *Mux) Handle(scheme string, r Resolver) *Mux {
	m.resolvers[scheme] = r
	return m
}

func (m *Mux) Fetch(ctx context.Context, ref string) (*Asset, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("invalid media reference %q: %w", ref, err)
	}
	r, ok := m.resolvers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no media resolver for scheme %q", u.Scheme)
	}
	return r.Fetch(ctx, ref)
}

// HTTP fetches assets over http(s).
type HTTP struct {
	client *http.Client
}

func NewHTTP(timeout time.Duration) *HTTP {
	return &HTTP{client: &http.Client{Timeout: timeout}}
}

func (h *HTTP) Fetch(ctx context.Context, ref string) (*Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch media: %s", resp.Status)
	}
	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return &Asset{Data: data, MimeType: mime}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxAssetSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media: %w", err)
	}
	if len(data) > MaxAssetSize {
		return nil, fmt.Errorf("media exceeds %d bytes", MaxAssetSize)
	}
	return data, nil
}
