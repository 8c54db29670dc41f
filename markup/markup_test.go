package markup_test

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/Skryldev/image-responsive/markup"
)

func clean(t *testing.T, opts markup.Options, in string) string {
	t.Helper()
	out, err := markup.New(opts).Clean(in)
	if err != nil {
		t.Fatalf("Clean(%q): %v", in, err)
	}
	return out
}

func TestClean(t *testing.T) {
	keepDoctype := markup.DefaultOptions()
	keepDoctype.StripDoctype = false
	keepComments := markup.DefaultOptions()
	keepComments.StripParasitic = false
	references := markup.DefaultOptions()
	references.DecodeEntities = false
	custom := markup.DefaultOptions()
	custom.VoidTags = append(custom.VoidTags, "spacer")

	tests := []struct {
		name string
		opts markup.Options
		in   string
		want string
	}{
		{"void tags self-close", markup.DefaultOptions(),
			`<p>Hello<br>world</p><img src=a.png alt="x">`,
			`<p>Hello<br/>world</p><img src="a.png" alt="x"/>`},
		{"document scaffolding dropped", markup.DefaultOptions(),
			`<!DOCTYPE html><html><head><title>t</title></head><body><p>a</p></body></html>`,
			`<p>a</p>`},
		{"doctype kept", keepDoctype,
			`<!DOCTYPE html><html><body><p>a</p></body></html>`,
			`<!DOCTYPE html><p>a</p>`},
		{"comments stripped", markup.DefaultOptions(), `<p>a<!-- note -->b</p><!-- tail -->`, `<p>ab</p>`},
		{"comments kept", keepComments, `<p>a<!-- note -->b</p>`, `<p>a<!-- note -->b</p>`},
		{"entities decoded", markup.DefaultOptions(), `<p>caf&eacute; &amp; tea</p>`, `<p>café &amp; tea</p>`},
		{"numeric references", references, `<p>café</p>`, `<p>caf&#233;</p>`},
		{"custom void tag", custom, `<p><spacer>after</p>`, `<p><spacer/>after</p>`},
		{"unknown tag not void", markup.DefaultOptions(), `<p><spacer>after</p>`, `<p><spacer>after</spacer></p>`},
		{"script is raw text", markup.DefaultOptions(), `<script>if (a < b) {}</script><p>x</p>`, `<script>if (a < b) {}</script><p>x</p>`},
		{"attribute quotes", markup.DefaultOptions(), `<img alt='say "hi"'>`, `<img alt="say &#34;hi&#34;"/>`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := clean(t, tc.opts, tc.in); got != tc.want {
				t.Errorf("got  %q\nwant %q", got, tc.want)
			}
		})
	}
}

func TestClean_Charset(t *testing.T) {
	opts := markup.DefaultOptions()
	opts.Charset = "iso-8859-1"
	if got := clean(t, opts, "<p>caf\xe9</p>"); got != "<p>café</p>" {
		t.Errorf("got %q", got)
	}

	opts.Charset = "no-such-charset"
	if _, err := markup.New(opts).Clean("<p>x</p>"); err == nil {
		t.Error("expected error for unknown charset")
	}
}

func TestCleaner_IsVoid(t *testing.T) {
	c := markup.New(markup.Options{VoidTags: []string{"Spacer"}})
	for _, tag := range []string{"br", "img", "source", "hr", "spacer", "SPACER"} {
		if !c.IsVoid(tag) {
			t.Errorf("%s should be void", tag)
		}
	}
	if c.IsVoid("p") {
		t.Error("p is not void")
	}
}

func TestAttrs(t *testing.T) {
	a := markup.Attrs{{Key: "src", Val: "a"}, {Key: "alt", Val: "b"}}
	a = a.Set("src", "c").Set("width", "10").Remove("alt")

	var keys []string
	for _, at := range a {
		keys = append(keys, at.Key+"="+at.Val)
	}
	if got := strings.Join(keys, ","); got != "src=c,width=10" {
		t.Errorf("got %s", got)
	}
	if v, ok := a.Get("width"); !ok || v != "10" {
		t.Errorf("Get(width) = %q, %v", v, ok)
	}
	if a.Has("alt") {
		t.Error("alt should be removed")
	}
}

func TestReplaceAndUnwrap(t *testing.T) {
	c := markup.New(markup.DefaultOptions())
	root, err := c.Parse(`<div><picture><source srcset="s"><img src="a"></picture></div>`)
	if err != nil {
		t.Fatal(err)
	}

	var picture *html.Node
	markup.Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "picture" {
			picture = n
			return false
		}
		return true
	})
	if picture == nil {
		t.Fatal("picture not found")
	}
	markup.Unwrap(picture)

	markup.Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "source" {
			markup.Replace(n, markup.Element("span", markup.Attrs{{Key: "class", Val: "gone"}}))
		}
		return true
	})

	got, err := c.RenderString(root)
	if err != nil {
		t.Fatal(err)
	}
	if want := `<div><span class="gone"></span><img src="a"/></div>`; got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}
