package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"appgen/internal/util"
)

// maxDocumentBytes caps how much of a preview page is read for inspection.
const maxDocumentBytes = 4 << 20

// HTTPViewport loads preview pages over HTTP. Only pages served from the API
// origin are observable, mirroring what an embedding page could see.
type HTTPViewport struct {
	client *http.Client
	origin string

	mu     sync.Mutex
	url    string
	loaded bool
	empty  bool
}

// NewHTTPViewport returns a viewport that fetches with client and treats
// apiBase's origin as its own.
func NewHTTPViewport(client *http.Client, apiBase string) *HTTPViewport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPViewport{client: client, origin: apiBase, empty: true}
}

// Load fetches url. A non-2xx response is a load error. about:blank clears the
// viewport without any request.
func (v *HTTPViewport) Load(ctx context.Context, url string) error {
	v.mu.Lock()
	v.url = url
	v.loaded = false
	v.empty = true
	v.mu.Unlock()

	if url == blankURL {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("load preview: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("load preview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("load preview: unexpected status %s", resp.Status)
	}
	empty, err := documentEmpty(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return fmt.Errorf("load preview: %w", err)
	}

	v.mu.Lock()
	if v.url == url {
		v.loaded = true
		v.empty = empty
	}
	v.mu.Unlock()
	return nil
}

// Inspect implements Viewport.
func (v *HTTPViewport) Inspect() (empty, observable bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.loaded || v.empty, util.SameOrigin(v.url, v.origin)
}

// documentEmpty reports whether the body of an HTML document has no element
// and no non-whitespace text.
func documentEmpty(r io.Reader) (bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return false, err
	}
	body := findBody(doc)
	if body == nil {
		return true, nil
	}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return false, nil
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return false, nil
			}
		}
	}
	return true, nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
