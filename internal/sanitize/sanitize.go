// Package sanitize turns fetched bodies into plain text that is safe to pass downstream.
package sanitize

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// ErrUnsupportedContent is returned for bodies that are neither markup nor text.
var ErrUnsupportedContent = errors.New("unsupported content type")

// Kind is the broad family of a response body.
type Kind string

// Content kinds.
const (
	KindHTML        Kind = "html"
	KindText        Kind = "text"
	KindUnsupported Kind = "unsupported"
)

// Result is the cleaned text of one body.
type Result struct {
	Kind  Kind
	Title string
	Text  string
}

const removedElements = "script, style, iframe, noscript, object, embed, template"

var blockElements = map[string]struct{}{
	"address": {}, "article": {}, "aside": {}, "blockquote": {}, "br": {}, "dd": {}, "div": {},
	"dl": {}, "dt": {}, "figcaption": {}, "footer": {}, "h1": {}, "h2": {}, "h3": {}, "h4": {},
	"h5": {}, "h6": {}, "header": {}, "hr": {}, "li": {}, "main": {}, "nav": {}, "ol": {},
	"p": {}, "pre": {}, "section": {}, "table": {}, "td": {}, "th": {}, "tr": {}, "ul": {},
}

var (
	dangerousBlockPattern = regexp.MustCompile(`(?is)<(script|style|iframe|noscript|object|embed)\b[^>]*>.*?</(?:script|style|iframe|noscript|object|embed)\s*>`)
	dangerousTagPattern   = regexp.MustCompile(`(?i)</?(script|style|iframe|noscript|object|embed)\b[^>]*>`)
	eventAttrPattern      = regexp.MustCompile(`(?i)\son[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	scriptURIPattern      = regexp.MustCompile(`(?i)\b(?:javascript|vbscript)\s*:`)
	dataURIPattern        = regexp.MustCompile(`(?i)\bdata:[a-z]+/[a-z0-9.+-]+[^\s"'<>)]*`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
)

// Classify maps a Content-Type header to a Kind, sniffing body when the header is empty.
func Classify(contentType string, body []byte) Kind {
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return KindHTML
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/xml",
		strings.HasSuffix(mediaType, "+json"),
		strings.HasSuffix(mediaType, "+xml"):
		return KindText
	default:
		return KindUnsupported
	}
}

// Content cleans body according to its content type.
func Content(body []byte, contentType string) (Result, error) {
	kind := Classify(contentType, body)
	switch kind {
	case KindHTML:
		return HTML(body)
	case KindText:
		return Result{Kind: KindText, Text: Text(string(body))}, nil
	default:
		return Result{Kind: KindUnsupported}, fmt.Errorf("%w: %q", ErrUnsupportedContent, contentType)
	}
}

// HTML parses body, drops executable and embedded elements along with event
// handler attributes and script URIs, and returns the visible text.
func HTML(body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{Kind: KindHTML}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(removedElements).Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		stripUnsafeAttributes(s)
	})

	title := collapse(doc.Find("title").First().Text())
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var sb strings.Builder
	writeText(root, &sb)
	return Result{Kind: KindHTML, Title: title, Text: collapse(sb.String())}, nil
}

// Text strips the same executable patterns from markup-bearing plain text.
func Text(s string) string {
	s = dangerousBlockPattern.ReplaceAllString(s, " ")
	s = dangerousTagPattern.ReplaceAllString(s, " ")
	s = eventAttrPattern.ReplaceAllString(s, "")
	s = scriptURIPattern.ReplaceAllString(s, "")
	s = dataURIPattern.ReplaceAllString(s, "")
	return collapse(s)
}

// Truncate shortens s to at most limit runes. A non-positive limit leaves s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func stripUnsafeAttributes(s *goquery.Selection) {
	for _, node := range s.Nodes {
		kept := node.Attr[:0]
		for _, attr := range node.Attr {
			key := strings.ToLower(attr.Key)
			if strings.HasPrefix(key, "on") {
				continue
			}
			val := strings.ToLower(strings.TrimSpace(attr.Val))
			if strings.HasPrefix(val, "javascript:") || strings.HasPrefix(val, "vbscript:") || strings.HasPrefix(val, "data:") {
				continue
			}
			kept = append(kept, attr)
		}
		node.Attr = kept
	}
}

func writeText(selection *goquery.Selection, sb *strings.Builder) {
	selection.Contents().Each(func(_ int, s *goquery.Selection) {
		name := goquery.NodeName(s)
		switch name {
		case "#text":
			sb.WriteString(s.Text())
		case "#comment", "head", "title":
		default:
			_, block := blockElements[name]
			if block {
				sb.WriteByte(' ')
			}
			writeText(s, sb)
			if block {
				sb.WriteByte(' ')
			}
		}
	})
}

func collapse(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
