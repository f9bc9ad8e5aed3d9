// Package gist persists the snapshot as a file inside a GitHub Gist,
// using the Gist REST API (GET/PATCH /gists/{id}).
//
// The Gist API offers no compare-and-swap on PATCH, so Save is a blind
// overwrite: the coordinator's write gate serializes writers inside the
// process, but a second process writing the same gist races last-writer-wins.
// That gap is a property of the backend, documented here instead of being
// papered over with invented semantics.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/linkdeck/snapshot"
	"github.com/hazyhaar/linkdeck/storage"
)

const (
	defaultBaseURL  = "https://api.github.com"
	defaultFilename = "links.json"
)

// Store is a Gist-backed storage.Backend.
type Store struct {
	client   *http.Client
	baseURL  string
	gistID   string
	filename string
	token    string
}

// Option customises a Store.
type Option func(*Store)

// WithBaseURL overrides the GitHub API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(s *Store) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.client = c }
}

// WithFilename sets the document's filename inside the gist.
// Default: "links.json".
func WithFilename(name string) Option {
	return func(s *Store) { s.filename = name }
}

// New returns a store persisting to the given gist. The token is sent as a
// Bearer credential; an empty token works for public gists on reads only.
func New(gistID, token string, opts ...Option) *Store {
	s := &Store{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  defaultBaseURL,
		gistID:   gistID,
		filename: defaultFilename,
		token:    token,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// gistFile mirrors the per-file object in the Gist API response.
type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	RawURL    string `json:"raw_url"`
}

type gistDoc struct {
	Files map[string]gistFile `json:"files"`
}

// Load fetches the gist and decodes the document file. A missing gist,
// missing file, or empty placeholder content is ErrNotFound; undecodable
// content is ErrCorrupt.
func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, error) {
	body, err := s.do(ctx, http.MethodGet, nil)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	var doc gistDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("gist: decode response: %w: %w", storage.ErrCorrupt, err)
	}
	f, ok := doc.Files[s.filename]
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("gist: no file %q in gist %s: %w", s.filename, s.gistID, storage.ErrNotFound)
	}
	content := f.Content
	if f.Truncated {
		// Gist inlines at most ~1MB; past that the full content lives at raw_url.
		raw, err := s.fetchRaw(ctx, f.RawURL)
		if err != nil {
			return snapshot.Snapshot{}, err
		}
		content = raw
	}
	if strings.TrimSpace(content) == "" {
		return snapshot.Snapshot{}, fmt.Errorf("gist: empty document: %w", storage.ErrNotFound)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal([]byte(content), &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("gist: decode document: %w: %w", storage.ErrCorrupt, err)
	}
	return snap, nil
}

// Save overwrites the document file via PATCH. Last writer wins.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("gist: encode: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"files": map[string]any{
			s.filename: map[string]string{"content": string(data)},
		},
	})
	if err != nil {
		return fmt.Errorf("gist: encode request: %w", err)
	}
	_, err = s.do(ctx, http.MethodPatch, payload)
	return err
}

// do performs one Gist API call and maps HTTP failures onto the storage
// taxonomy: 404 → ErrNotFound, everything else non-2xx → ErrUnavailable.
func (s *Store) do(ctx context.Context, method string, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/gists/%s", s.baseURL, s.gistID)
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("gist: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gist: %s %s: %w: %w", method, url, storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("gist: %s not found: %w", s.gistID, storage.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("gist: HTTP %d: %s: %w", resp.StatusCode, string(snippet), storage.ErrUnavailable)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
}

func (s *Store) fetchRaw(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("gist: build raw request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gist: fetch raw: %w: %w", storage.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gist: raw HTTP %d: %w", resp.StatusCode, storage.ErrUnavailable)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("gist: read raw: %w: %w", storage.ErrUnavailable, err)
	}
	return string(data), nil
}
