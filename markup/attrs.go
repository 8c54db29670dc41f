package markup

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Attrs is an ordered attribute list. Set keeps the position of an existing
// key and appends new ones.
type Attrs []html.Attribute

// AttrsOf copies the attributes of n.
func AttrsOf(n *html.Node) Attrs {
	return append(Attrs(nil), n.Attr...)
}

func (a Attrs) index(key string) int {
	for i, at := range a {
		if at.Namespace == "" && at.Key == key {
			return i
		}
	}
	return -1
}

func (a Attrs) Get(key string) (string, bool) {
	if i := a.index(key); i >= 0 {
		return a[i].Val, true
	}
	return "", false
}

func (a Attrs) Has(key string) bool { return a.index(key) >= 0 }

func (a Attrs) Set(key, val string) Attrs {
	if i := a.index(key); i >= 0 {
		a[i].Val = val
		return a
	}
	return append(a, html.Attribute{Key: key, Val: val})
}

func (a Attrs) Remove(key string) Attrs {
	if i := a.index(key); i >= 0 {
		return append(a[:i], a[i+1:]...)
	}
	return a
}

// Element builds a detached element node.
func Element(tag string, attrs Attrs, children ...*html.Node) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     append([]html.Attribute(nil), attrs...),
	}
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

// Walk calls fn for n and its descendants in document order. Returning false
// skips the node's children.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, fn)
		c = next
	}
}

// Replace swaps old for repl in old's parent. old must have a parent.
func Replace(old *html.Node, repl ...*html.Node) {
	parent := old.Parent
	for _, r := range repl {
		parent.InsertBefore(r, old)
	}
	parent.RemoveChild(old)
}

// Unwrap moves n's children into its parent and removes n.
func Unwrap(n *html.Node) {
	parent := n.Parent
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
		c = next
	}
	parent.RemoveChild(n)
}
