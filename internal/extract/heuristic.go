package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/kalambet/whatson/internal/source"
)

const (
	maxBlocks     = 50
	minBlockChars = 15
	maxBlockChars = 600
)

var (
	monthDay = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(st|nd|rd|th)?\b`)
	dayMonth = regexp.MustCompile(`(?i)\b\d{1,2}(st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\b`)
	numeric  = regexp.MustCompile(`\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`)
	isoDate  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	weekday  = regexp.MustCompile(`(?i)\b(mon|tues|wednes|thurs|fri|satur|sun)day\b`)
	clock    = regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s?(am|pm)\b`)
	price    = regexp.MustCompile(`(?i)(\$\s?\d+(\.\d{2})?|\bfree\b)`)

	paragraphSep = regexp.MustCompile(`\n\s*\n`)
)

// candidateTags are the container elements considered as event blocks.
var candidateTags = map[string]bool{
	"article": true, "li": true, "tr": true, "div": true, "section": true, "dl": true,
}

// skipTags never contribute text.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true, "footer": true, "header": true,
	"svg": true, "form": true, "template": true,
}

// HeuristicTier is the last resort: it scans page text for blocks that look
// like event listings (a date pattern, optionally time and price). PDF
// calendars are converted to text first.
type HeuristicTier struct{}

func (HeuristicTier) Tier() source.Tier { return source.TierHeuristic }

func (HeuristicTier) Extract(ctx context.Context, t *Target) (RawPayload, error) {
	doc, err := t.Page(ctx)
	if err != nil {
		return RawPayload{}, err
	}
	return heuristicPayload(doc)
}

func heuristicPayload(doc Document) (RawPayload, error) {
	var blocks []string
	if doc.IsPDF() {
		text, err := pdfText(doc.Body)
		if err != nil {
			return RawPayload{}, err
		}
		blocks = textBlocks(text)
	} else if strings.HasPrefix(doc.ContentType, ContentText) {
		blocks = textBlocks(string(doc.Body))
	} else {
		var err error
		blocks, err = htmlBlocks(doc.Body, doc.URL)
		if err != nil {
			return RawPayload{}, err
		}
	}
	if len(blocks) == 0 {
		return RawPayload{}, ErrEmpty
	}
	return RawPayload{
		ContentType: ContentText,
		Content:     strings.Join(blocks, "\n---\n"),
		Items:       len(blocks),
		SourceURL:   doc.URL,
	}, nil
}

func looksLikeEvent(text string) bool {
	if len(text) < minBlockChars {
		return false
	}
	if monthDay.MatchString(text) || dayMonth.MatchString(text) || isoDate.MatchString(text) || numeric.MatchString(text) {
		return true
	}
	// A weekday alone is too weak; require a clock time or price with it.
	return weekday.MatchString(text) && (clock.MatchString(text) || price.MatchString(text))
}

// htmlBlocks returns the innermost candidate elements whose text looks like
// an event, each annotated with its heading and first link.
func htmlBlocks(body []byte, pageURL string) ([]string, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	base, _ := url.Parse(pageURL)

	var blocks []string
	// visit reports whether n's subtree yielded a block.
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if len(blocks) >= maxBlocks {
			return true
		}
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return false
		}
		found := false
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				found = true
			}
		}
		if found || n.Type != html.ElementNode || !candidateTags[n.Data] {
			return found
		}
		text := collapse(textOf(n))
		if !looksLikeEvent(text) {
			return false
		}
		blocks = append(blocks, describe(n, text, base))
		return true
	}
	visit(root)
	return blocks, nil
}

func describe(n *html.Node, text string, base *url.URL) string {
	text = clip(text, maxBlockChars)
	var sb strings.Builder
	if h := firstHeading(n); h != "" {
		sb.WriteString("Heading: ")
		sb.WriteString(h)
		sb.WriteString("\n")
	}
	sb.WriteString("Text: ")
	sb.WriteString(text)
	if href := firstLink(n); href != "" {
		if base != nil {
			if u, err := base.Parse(href); err == nil {
				href = u.String()
			}
		}
		sb.WriteString("\nURL: ")
		sb.WriteString(href)
	}
	return sb.String()
}

// textBlocks splits plain text into paragraph blocks and keeps the ones
// that look like events.
func textBlocks(text string) []string {
	var blocks []string
	for _, para := range paragraphSep.Split(text, -1) {
		para = collapse(para)
		if !looksLikeEvent(para) {
			continue
		}
		blocks = append(blocks, "Text: "+clip(para, maxBlockChars))
		if len(blocks) >= maxBlocks {
			break
		}
	}
	return blocks
}

// clip cuts s to at most max bytes without splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func firstHeading(n *html.Node) string {
	var found string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "h1", "h2", "h3", "h4", "h5", "h6", "strong":
				found = collapse(textOf(n))
				return found != ""
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(n)
	return found
}

func firstLink(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "a" {
		for _, a := range n.Attr {
			if a.Key == "href" && a.Val != "" && !strings.HasPrefix(a.Val, "#") && !strings.HasPrefix(a.Val, "javascript:") {
				return a.Val
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := firstLink(c); href != "" {
			return href
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
