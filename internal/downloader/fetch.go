package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

const (
	userAgent    = "feedtree/1.0"
	maxPageBytes = 1 << 20
)

// FeedResult is what a feed fetch reports back.
type FeedResult struct {
	Title    string
	Homepage string
	GUIDs    []string
	Updated  time.Time
}

// Fetcher performs the network side of jobs.
type Fetcher interface {
	FetchFeed(ctx context.Context, feedURL string) (FeedResult, error)
	FetchIcon(ctx context.Context, websiteURL string) (string, error)
}

// HTTPFetcher fetches feeds with gofeed and discovers icons from the
// website's link tags.
type HTTPFetcher struct {
	client *http.Client
	parser *gofeed.Parser
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	client := &http.Client{Timeout: timeout}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent
	return &HTTPFetcher{client: client, parser: parser}
}

func (f *HTTPFetcher) FetchFeed(ctx context.Context, feedURL string) (FeedResult, error) {
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return FeedResult{}, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	out := FeedResult{
		Title:    strings.TrimSpace(parsed.Title),
		Homepage: strings.TrimSpace(parsed.Link),
	}
	if parsed.UpdatedParsed != nil {
		out.Updated = *parsed.UpdatedParsed
	} else if parsed.PublishedParsed != nil {
		out.Updated = *parsed.PublishedParsed
	}
	for _, item := range parsed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		if guid == "" {
			continue
		}
		out.GUIDs = append(out.GUIDs, guid)
	}
	return out, nil
}

// FetchIcon returns the url of the site's icon: the first <link rel="icon">
// on the page, or /favicon.ico when the page declares none.
func (f *HTTPFetcher) FetchIcon(ctx context.Context, websiteURL string) (string, error) {
	base, err := url.Parse(websiteURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("invalid website url %q", websiteURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, websiteURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", websiteURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", websiteURL, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", websiteURL, err)
	}
	if href := findIconHref(doc); href != "" {
		ref, err := url.Parse(href)
		if err == nil {
			return resp.Request.URL.ResolveReference(ref).String(), nil
		}
	}
	return base.ResolveReference(&url.URL{Path: "/favicon.ico"}).String(), nil
}

var errStop = errors.New("stop")

func findIconHref(doc *html.Node) string {
	var href string
	var visit func(n *html.Node) error
	visit = func(n *html.Node) error {
		if n.Type == html.ElementNode && n.Data == "link" && isIconLink(n) {
			for _, a := range n.Attr {
				if a.Key == "href" && strings.TrimSpace(a.Val) != "" {
					href = strings.TrimSpace(a.Val)
					return errStop
				}
			}
		}
		if n.Type == html.ElementNode && n.Data == "body" {
			return nil
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	_ = visit(doc)
	return href
}

func isIconLink(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key != "rel" {
			continue
		}
		for _, rel := range strings.Fields(strings.ToLower(a.Val)) {
			if rel == "icon" {
				return true
			}
		}
	}
	return false
}

var errUnknownKind = errors.New("unknown job kind")
