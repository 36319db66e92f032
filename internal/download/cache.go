// Package download mirrors the Receita Federal CNPJ archives into a local
// directory. Files already present are never fetched again.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// partSuffix marks a download in progress. Extraction ignores these files.
const partSuffix = ".part"

var errNoKinds = errors.New("no archive kinds configured")

// Cache downloads the archives listed on an index page.
type Cache struct {
	baseURL string
	dir     string
	kinds   []string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the client used for the index and the archives.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout bounds each request, body transfer included.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.client = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Cache for the index at baseURL, storing files in dir.
// Only .zip links whose name contains one of kinds are fetched.
func New(baseURL, dir string, kinds []string, opts ...Option) *Cache {
	c := &Cache{
		baseURL: baseURL,
		dir:     dir,
		kinds:   kinds,
		client:  http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks the cache settings before any request is made.
func (c *Cache) Validate() error {
	if c.baseURL == "" {
		return errors.New("base URL is required")
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if len(c.kinds) == 0 {
		return errNoKinds
	}
	return nil
}

// Result summarizes a Fetch.
type Result struct {
	Downloaded []string       // paths fetched by this call
	Existing   []string       // paths already present and left alone
	PerKind    map[string]int // downloaded files per kind
}

// Fetch downloads every matching archive not already in the cache dir.
// The first failed download ends the fetch; files completed before it stay.
func (c *Cache) Fetch(ctx context.Context) (Result, error) {
	result := Result{PerKind: make(map[string]int)}

	if err := c.Validate(); err != nil {
		return result, err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return result, fmt.Errorf("create download dir: %w", err)
	}

	links, err := c.Links(ctx)
	if err != nil {
		return result, err
	}
	c.logger.Info("archives listed", "url", c.baseURL, "count", len(links))
	for _, kind := range c.kinds {
		n := 0
		for _, link := range links {
			if kindOf(path.Base(link.Path), c.kinds) == kind {
				n++
			}
		}
		c.logger.Info("archives per kind", "kind", kind, "count", n)
	}

	for _, link := range links {
		name := path.Base(link.Path)
		dest := filepath.Join(c.dir, name)

		if _, err := os.Stat(dest); err == nil {
			c.logger.Info("archive already present, skipping", "file", name)
			result.Existing = append(result.Existing, dest)
			continue
		}

		c.logger.Info("downloading", "file", name)
		start := time.Now()
		n, err := c.download(ctx, link.String(), dest)
		if err != nil {
			return result, fmt.Errorf("download %s: %w", name, err)
		}
		c.logger.Info("downloaded", "file", name, "bytes", n, "duration", time.Since(start).Round(time.Millisecond))

		result.Downloaded = append(result.Downloaded, dest)
		result.PerKind[kindOf(name, c.kinds)]++
	}

	c.logger.Info("download finished", "downloaded", len(result.Downloaded), "existing", len(result.Existing))
	return result, nil
}

// Links fetches the index page and returns the absolute URLs of the
// matching archives, in page order and without duplicates.
func (c *Cache) Links(ctx context.Context) ([]*url.URL, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	body, err := c.get(ctx, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer body.Close()

	hrefs, err := parseLinks(body, c.kinds)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	seen := make(map[string]bool, len(hrefs))
	links := make([]*url.URL, 0, len(hrefs))
	for _, href := range hrefs {
		ref, err := url.Parse(href)
		if err != nil {
			c.logger.Warn("ignoring malformed link", "href", href, "error", err)
			continue
		}
		abs := base.ResolveReference(ref)
		if seen[abs.String()] {
			continue
		}
		seen[abs.String()] = true
		links = append(links, abs)
	}
	return links, nil
}

// parseLinks returns the href of every anchor ending in .zip whose value
// contains one of kinds.
func parseLinks(r io.Reader, kinds []string) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasSuffix(attr.Val, ".zip") && kindOf(attr.Val, kinds) != "" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return hrefs, nil
}

// kindOf returns the first kind contained in name, or "".
func kindOf(name string, kinds []string) string {
	for _, k := range kinds {
		if k != "" && strings.Contains(name, k) {
			return k
		}
	}
	return ""
}

func (c *Cache) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return resp.Body, nil
}

// download streams rawURL into dest via dest+".part", so an interrupted
// transfer never leaves a file that looks complete.
func (c *Cache) download(ctx context.Context, rawURL, dest string) (int64, error) {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	part := dest + partSuffix
	f, err := os.Create(part)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(part)
		return n, err
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return n, err
	}
	return n, nil
}
