// Package portfolio fetches a short preview of a portfolio page so the
// auto-tagger sees more than a bare URL.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	MaxBodySize = 100 * 1024
	Timeout     = 5 * time.Second
	UserAgent   = "TehAisBot/1.0"

	maxDescriptionRunes = 300
)

var ErrNotHTML = errors.New("not an HTML page")

type Preview struct {
	URL         string
	Title       string
	Description string
	SiteName    string
}

type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a Fetcher using client, or http.DefaultClient when nil.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch retrieves title, description and site name from the page at url.
// Requests are bounded by Timeout and MaxBodySize.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Preview, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil, ErrNotHTML
	}

	return parse(io.LimitReader(resp.Body, MaxBodySize), url)
}

func parse(r io.Reader, url string) (*Preview, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	p := &Preview{URL: url}
	walk(doc, p)

	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	if runes := []rune(p.Description); len(runes) > maxDescriptionRunes {
		p.Description = string(runes[:maxDescriptionRunes])
	}
	return p, nil
}

// walk fills p from <title>, OpenGraph and description meta tags. OpenGraph
// values win over the plain ones.
func walk(n *html.Node, p *Preview) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "title":
			if n.FirstChild != nil && p.Title == "" {
				p.Title = n.FirstChild.Data
			}
		case "meta":
			content := attr(n, "content")
			switch attr(n, "property") {
			case "og:title":
				p.Title = content
			case "og:description":
				p.Description = content
			case "og:site_name":
				p.SiteName = content
			}
			if attr(n, "name") == "description" && p.Description == "" {
				p.Description = content
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, p)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Format renders p as a block appended to a self description.
func Format(p *Preview) string {
	var sb strings.Builder
	sb.WriteString("\n\n[Portfolio page]\n")
	fmt.Fprintf(&sb, "URL: %s\n", p.URL)
	if p.SiteName != "" {
		fmt.Fprintf(&sb, "Site: %s\n", p.SiteName)
	}
	if p.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", p.Title)
	}
	if p.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", p.Description)
	}
	return sb.String()
}
