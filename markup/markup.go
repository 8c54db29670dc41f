// Package markup cleans HTML fragments into a node tree and renders them
// back. Parsing is done by golang.org/x/net/html; input in a legacy charset
// is transcoded to UTF-8 first.
package markup

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	apperrors "github.com/Skryldev/image-responsive/errors"
)

// Options controls cleaning.
type Options struct {
	// DecodeEntities renders characters literally. When false every
	// non-ASCII rune is written as a numeric character reference.
	DecodeEntities bool `yaml:"decode_entities"`
	StripDoctype   bool `yaml:"strip_doctype"`
	// StripParasitic drops comments, including stray processing instructions.
	StripParasitic bool `yaml:"strip_parasitic"`
	// VoidTags are elements that never have children. Content the parser
	// nested under one is moved to follow it.
	VoidTags []string `yaml:"void_tags"`
	// Charset names the input encoding. Empty means sniff from BOM and meta.
	Charset string `yaml:"charset"`
}

// DefaultVoidTags are the line break, image and alternate source elements.
var DefaultVoidTags = []string{"br", "img", "source"}

func DefaultOptions() Options {
	return Options{
		DecodeEntities: true,
		StripDoctype:   true,
		StripParasitic: true,
		VoidTags:       append([]string(nil), DefaultVoidTags...),
	}
}

// Cleaner parses and renders fragments. Safe for concurrent use.
type Cleaner struct {
	opts Options
	void map[string]bool
}

// New returns a Cleaner. The HTML void elements are always void in addition
// to opts.VoidTags.
func New(opts Options) *Cleaner {
	void := make(map[string]bool, len(htmlVoid)+len(opts.VoidTags))
	for t := range htmlVoid {
		void[t] = true
	}
	for _, t := range opts.VoidTags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			void[t] = true
		}
	}
	return &Cleaner{opts: opts, void: void}
}

// IsVoid reports whether tag is rendered self-closed.
func (c *Cleaner) IsVoid(tag string) bool { return c.void[strings.ToLower(tag)] }

// Parse returns a document node holding the body-level content of raw.
// Fragments are parsed in a body context. For a full document the
// scaffolding (html, head, body) is discarded and the doctype is kept
// unless StripDoctype is set.
func (c *Cleaner) Parse(raw string) (*html.Node, error) {
	r, err := c.reader(raw)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}

	if !isDocument(raw) {
		nodes, err := html.ParseFragment(r, &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryValidation, "markup.parse", err)
		}
		for _, n := range nodes {
			root.AppendChild(n)
		}
		c.tidy(root)
		return root, nil
	}

	doc, err := html.Parse(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryValidation, "markup.parse", err)
	}
	if !c.opts.StripDoctype {
		for n := doc.FirstChild; n != nil; n = n.NextSibling {
			if n.Type == html.DoctypeNode {
				doc.RemoveChild(n)
				root.AppendChild(n)
				break
			}
		}
	}
	if body := findBody(doc); body != nil {
		for n := body.FirstChild; n != nil; {
			next := n.NextSibling
			body.RemoveChild(n)
			root.AppendChild(n)
			n = next
		}
	}
	c.tidy(root)
	return root, nil
}

func isDocument(raw string) bool {
	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = strings.ToLower(head)
	for _, marker := range []string{"<!doctype", "<html", "<head", "<body"} {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}

func (c *Cleaner) reader(raw string) (io.Reader, error) {
	r := strings.NewReader(raw)
	if c.opts.Charset == "" {
		if utf8.ValidString(raw) {
			return r, nil
		}
		cr, err := charset.NewReader(r, "")
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryValidation, "markup.charset", err)
		}
		return cr, nil
	}
	enc, err := htmlindex.Get(c.opts.Charset)
	if err != nil {
		return nil, apperrors.Newf(apperrors.CategoryConfig, "markup.charset", "unknown charset %q: %v", c.opts.Charset, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// tidy strips comments below n and hoists children out of custom void
// elements.
func (c *Cleaner) tidy(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if c.opts.StripParasitic && child.Type == html.CommentNode {
			n.RemoveChild(child)
		} else {
			c.tidy(child)
		}
		child = next
	}
	if n.Type != html.ElementNode || !c.void[n.Data] || n.FirstChild == nil || n.Parent == nil {
		return
	}
	after := n.NextSibling
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		n.RemoveChild(child)
		n.Parent.InsertBefore(child, after)
		child = next
	}
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// Clean parses and renders raw in one go.
func (c *Cleaner) Clean(raw string) (string, error) {
	root, err := c.Parse(raw)
	if err != nil {
		return "", err
	}
	return c.RenderString(root)
}

// RenderString renders n to a string.
func (c *Cleaner) RenderString(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := c.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ── Rendering ─────────────────────────────────────────────────────────────────

// Render writes n. A document node renders its children only. Void elements
// are self-closed.
func (c *Cleaner) Render(w io.Writer, n *html.Node) error {
	ew := &errWriter{w: w}
	c.render(ew, n)
	if ew.err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, "markup.render", ew.err)
	}
	return nil
}

func (c *Cleaner) render(w *errWriter, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if p := n.Parent; p != nil && p.Type == html.ElementNode && rawText[p.Data] {
			w.str(n.Data)
			return
		}
		w.str(c.escape(n.Data, false))
	case html.CommentNode:
		w.str("<!--" + n.Data + "-->")
	case html.DoctypeNode:
		w.str("<!DOCTYPE " + n.Data + ">")
	case html.DocumentNode:
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			c.render(w, ch)
		}
	case html.ElementNode:
		w.str("<" + n.Data)
		for _, a := range n.Attr {
			key := a.Key
			if a.Namespace != "" {
				key = a.Namespace + ":" + key
			}
			w.str(" " + key + `="` + c.escape(a.Val, true) + `"`)
		}
		if c.void[n.Data] {
			w.str("/>")
			return
		}
		w.str(">")
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			c.render(w, ch)
		}
		w.str("</" + n.Data + ">")
	}
}

func (c *Cleaner) escape(s string, attr bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '&':
			b.WriteString("&amp;")
		case r == '<':
			b.WriteString("&lt;")
		case r == '>':
			b.WriteString("&gt;")
		case r == '"' && attr:
			b.WriteString("&#34;")
		case r == '\u00a0':
			b.WriteString("&nbsp;")
		case r > 127 && !c.opts.DecodeEntities:
			fmt.Fprintf(&b, "&#%d;", r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) str(s string) {
	if e.err == nil {
		_, e.err = io.WriteString(e.w, s)
	}
}

var htmlVoid = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true,
	"track": true, "wbr": true,
}

var rawText = map[string]bool{
	"script": true, "style": true, "xmp": true, "iframe": true,
	"noembed": true, "noframes": true, "noscript": true, "plaintext": true,
}
