package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxHTMLBytes bounds how much of a page the extractor reads. Pages larger
// than this are truncated and flagged.
const maxHTMLBytes = 2 << 20 // 2 MB

// maxVisibleTextRunes bounds the visible-text fallback so a single page
// cannot flood downstream prompts.
const maxVisibleTextRunes = 8000

// HTMLExtractor is the generic fallback extractor. It reads Open Graph and
// standard meta tags, JSON-LD blocks, embedded platform JSON payloads, and
// finally visible text with script/style stripped.
type HTMLExtractor struct {
	httpClient *http.Client
	userAgent  string
}

// NewHTMLExtractor creates the generic extractor.
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		userAgent:  "Mozilla/5.0 (compatible; VerityBot/1.0)",
	}
}

// Platforms marks this extractor as the generic fallback.
func (e *HTMLExtractor) Platforms() []Platform { return []Platform{PlatformGeneric} }

// Extract fetches the page and assembles text from meta tags, JSON-LD, and
// visible content.
func (e *HTMLExtractor) Extract(ctx context.Context, url string) (*Extraction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", url, err)
	}
	truncated := len(body) > maxHTMLBytes
	if truncated {
		body = body[:maxHTMLBytes]
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("ingest: parse html: %w", err)
	}

	var (
		parts    []string
		ex       = &Extraction{Truncated: truncated}
		seen     = map[string]bool{}
		appendTo = func(s string) {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				parts = append(parts, s)
			}
		}
	)

	meta := collectMeta(doc)
	appendTo(meta["og:title"])
	appendTo(meta["og:description"])
	appendTo(meta["description"])
	appendTo(meta["twitter:description"])
	ex.Author = firstNonEmpty(meta["author"], meta["og:site_name"])
	ex.ImageURL = meta["og:image"]
	ex.VideoURL = meta["og:video"]

	for _, ld := range collectJSONLD(doc) {
		appendTo(ld.text)
		if ex.Author == "" {
			ex.Author = ld.author
		}
		if ld.published != nil && ex.Timestamp == nil {
			ex.Timestamp = ld.published
		}
	}

	if payload := extractEmbeddedPayload(doc); payload != "" {
		appendTo(payload)
	}

	// Visible text is the last resort: only when structured extraction
	// yielded little.
	if len(strings.Fields(strings.Join(parts, " "))) < 40 {
		appendTo(visibleText(doc))
	}

	ex.Text = strings.Join(parts, "\n\n")
	if ex.Text == "" {
		return nil, nil
	}
	return ex, nil
}

// collectMeta walks the document head and returns meta tag content keyed by
// property/name.
func collectMeta(doc *html.Node) map[string]string {
	out := make(map[string]string)
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return
		}
		var key, content string
		for _, a := range n.Attr {
			switch a.Key {
			case "property", "name":
				key = strings.ToLower(a.Val)
			case "content":
				content = a.Val
			}
		}
		if key != "" && content != "" {
			if _, exists := out[key]; !exists {
				out[key] = content
			}
		}
	})
	return out
}

type jsonLD struct {
	text      string
	author    string
	published *time.Time
}

// collectJSONLD parses application/ld+json script blocks, pulling captions,
// descriptions, authors, keywords, and comment text.
func collectJSONLD(doc *html.Node) []jsonLD {
	var results []jsonLD
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "script" || attrVal(n, "type") != "application/ld+json" {
			return
		}
		raw := textContent(n)
		var payload any
		// Malformed JSON-LD is common in the wild; skip silently.
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return
		}
		results = append(results, parseJSONLD(payload)...)
	})
	return results
}

func parseJSONLD(payload any) []jsonLD {
	switch t := payload.(type) {
	case []any:
		var out []jsonLD
		for _, e := range t {
			out = append(out, parseJSONLD(e)...)
		}
		return out
	case map[string]any:
		var ld jsonLD
		var parts []string
		for _, key := range []string{"headline", "caption", "description", "articleBody", "keywords"} {
			if s, ok := t[key].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		if author, ok := t["author"].(map[string]any); ok {
			if name, ok := author["name"].(string); ok {
				ld.author = name
			}
		}
		if s, ok := t["datePublished"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				ld.published = &ts
			}
		}
		if comments, ok := t["comment"].([]any); ok {
			for _, c := range comments {
				if cm, ok := c.(map[string]any); ok {
					if text, ok := cm["text"].(string); ok {
						parts = append(parts, text)
					}
				}
			}
		}
		ld.text = strings.Join(parts, "\n")
		if ld.text == "" && ld.author == "" && ld.published == nil {
			return nil
		}
		return []jsonLD{ld}
	default:
		return nil
	}
}

// embeddedPayloadKeys are JSON keys that mark a known platform data blob
// inside an inline script (e.g. shared-data structures).
var embeddedPayloadKeys = []string{"full_text", "edge_media_to_caption", "videoDetails", "post_message"}

// extractEmbeddedPayload scans inline scripts for known platform JSON
// payloads and pulls their text fields. Parsing is best-effort: anything
// that fails to decode is ignored.
func extractEmbeddedPayload(doc *html.Node) string {
	var found []string
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode || n.Data != "script" || attrVal(n, "type") == "application/ld+json" {
			return
		}
		raw := textContent(n)
		if len(raw) < 20 || len(raw) > 1<<20 {
			return
		}
		hasKey := false
		for _, key := range embeddedPayloadKeys {
			if strings.Contains(raw, `"`+key+`"`) {
				hasKey = true
				break
			}
		}
		if !hasKey {
			return
		}
		start := strings.IndexByte(raw, '{')
		end := strings.LastIndexByte(raw, '}')
		if start < 0 || end <= start {
			return
		}
		var payload any
		if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
			return
		}
		collectStringFields(payload, []string{"full_text", "text", "title", "shortDescription"}, &found)
	})
	return strings.Join(found, "\n")
}

func collectStringFields(v any, keys []string, out *[]string) {
	switch t := v.(type) {
	case map[string]any:
		for _, key := range keys {
			if s, ok := t[key].(string); ok && len(s) > 10 {
				*out = append(*out, s)
			}
		}
		for _, child := range t {
			collectStringFields(child, keys, out)
		}
	case []any:
		for _, child := range t {
			collectStringFields(child, keys, out)
		}
	}
}

// visibleText returns the page's rendered text with script, style, and
// navigation chrome stripped, capped at maxVisibleTextRunes.
func visibleText(doc *html.Node) string {
	var sb strings.Builder
	var emit func(*html.Node)
	emit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "header", "footer", "aside":
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			emit(c)
		}
	}
	emit(doc)

	runes := []rune(sb.String())
	if len(runes) > maxVisibleTextRunes {
		runes = runes[:maxVisibleTextRunes]
	}
	return strings.TrimSpace(string(runes))
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
