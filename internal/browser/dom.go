// File: internal/browser/dom.go
package browser

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// parseDocument parses a serialized page into a traversable tree.
func parseDocument(src string) (*html.Node, error) {
	doc, err := htmlquery.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return doc, nil
}

// generateUniqueXPath produces a stable XPath for a node, anchoring on the
// nearest ancestor id when one exists. Sibling indices are 1-based.
func generateUniqueXPath(node *html.Node) string {
	if node == nil {
		return ""
	}

	var segments []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if tag == "" {
			continue
		}

		if id := htmlquery.SelectAttr(n, "id"); id != "" {
			segments = append(segments, fmt.Sprintf(`//*[@id='%s']`, id))
			break
		}

		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		segments = append(segments, fmt.Sprintf("%s[%d]", tag, index))
	}
	if len(segments) == 0 {
		return "/"
	}

	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	xp := strings.Join(segments, "/")
	if !strings.HasPrefix(xp, "//*[@id=") {
		xp = "/" + xp
	}
	return xp
}

// implicitRoles maps HTML tags to their default ARIA role.
var implicitRoles = map[string]string{
	"a":        "link",
	"button":   "button",
	"select":   "combobox",
	"textarea": "textbox",
	"img":      "img",
	"nav":      "navigation",
	"main":     "main",
	"form":     "form",
	"table":    "table",
	"ul":       "list",
	"ol":       "list",
	"li":       "listitem",
	"h1":       "heading",
	"h2":       "heading",
	"h3":       "heading",
	"h4":       "heading",
	"h5":       "heading",
	"h6":       "heading",
	"option":   "option",
	"dialog":   "dialog",
}

// inputRoles maps input types to roles; the default is textbox.
var inputRoles = map[string]string{
	"button":   "button",
	"submit":   "button",
	"reset":    "button",
	"image":    "button",
	"checkbox": "checkbox",
	"radio":    "radio",
	"range":    "slider",
	"search":   "searchbox",
}

// accessibleRole computes the effective ARIA role of an element: an
// explicit role attribute wins over the tag's implicit role.
func accessibleRole(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if role := strings.TrimSpace(htmlquery.SelectAttr(n, "role")); role != "" {
		// A space-separated role list uses the first token.
		return strings.Fields(strings.ToLower(role))[0]
	}

	tag := strings.ToLower(n.Data)
	if tag == "input" {
		t := strings.ToLower(htmlquery.SelectAttr(n, "type"))
		if r, ok := inputRoles[t]; ok {
			return r
		}
		if t == "hidden" {
			return ""
		}
		return "textbox"
	}
	if tag == "a" && htmlquery.SelectAttr(n, "href") == "" {
		return ""
	}
	return implicitRoles[tag]
}

// accessibleName computes the element's accessible name following the
// practical precedence: aria-label, alt, button value, visible text, then
// placeholder and title.
func accessibleName(n *html.Node) string {
	if label := strings.TrimSpace(htmlquery.SelectAttr(n, "aria-label")); label != "" {
		return label
	}
	if alt := strings.TrimSpace(htmlquery.SelectAttr(n, "alt")); alt != "" {
		return alt
	}
	if strings.ToLower(n.Data) == "input" {
		if v := strings.TrimSpace(htmlquery.SelectAttr(n, "value")); v != "" {
			return v
		}
	}
	if text := visibleText(n); text != "" {
		return text
	}
	if p := strings.TrimSpace(htmlquery.SelectAttr(n, "placeholder")); p != "" {
		return p
	}
	return strings.TrimSpace(htmlquery.SelectAttr(n, "title"))
}

// visibleText collects the node's rendered text with whitespace collapsed.
// Script and style subtrees contribute nothing.
func visibleText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			sb.WriteString(node.Data)
			sb.WriteString(" ")
			return
		case html.ElementNode:
			switch strings.ToLower(node.Data) {
			case "script", "style", "noscript", "template":
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// findByRole returns elements with the given role, in document order,
// optionally filtered by accessible name (case-insensitive exact match).
func findByRole(doc *html.Node, role, name string) []*html.Node {
	role = strings.ToLower(strings.TrimSpace(role))
	var out []*html.Node
	walkElements(doc, func(n *html.Node) {
		if accessibleRole(n) != role {
			return
		}
		if name != "" && !strings.EqualFold(accessibleName(n), name) {
			return
		}
		out = append(out, n)
	})
	return out
}

// findByText returns the deepest elements whose visible text matches, in
// document order. Exact matching compares the whole collapsed text;
// substring matching additionally requires that no child element also
// matches, so containers do not shadow the actual target.
func findByText(doc *html.Node, text string, exact bool) []*html.Node {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	matches := func(n *html.Node) bool {
		t := visibleText(n)
		if exact {
			return strings.EqualFold(t, text)
		}
		return strings.Contains(strings.ToLower(t), strings.ToLower(text))
	}

	var out []*html.Node
	walkElements(doc, func(n *html.Node) {
		if !matches(n) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && matches(c) {
				return
			}
		}
		out = append(out, n)
	})
	return out
}

// walkElements visits every element node in document order.
func walkElements(n *html.Node, visit func(*html.Node)) {
	if n.Type == html.ElementNode {
		visit(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkElements(c, visit)
	}
}

var hasherPool = sync.Pool{
	New: func() interface{} { return fnv.New64a() },
}

// Structural attributes that shape a page's identity without being
// content-volatile.
var signatureAttrs = []string{"id", "name", "type", "role", "action", "data-testid"}

// pageSignature derives a stable identifier for a surface state: the URL
// without query or fragment, plus an FNV-64a hash over the DOM's tag shape
// and structural attributes. Text content is excluded so dynamic copy does
// not fragment the learned locator space.
func pageSignature(pageURL string, doc *html.Node) string {
	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()

	walkElements(doc, func(n *html.Node) {
		hasher.Write([]byte(strings.ToLower(n.Data)))
		attrs := make([]string, 0, 2)
		for _, name := range signatureAttrs {
			if v := htmlquery.SelectAttr(n, name); v != "" {
				attrs = append(attrs, name+"="+v)
			}
		}
		sort.Strings(attrs)
		for _, a := range attrs {
			hasher.Write([]byte(a))
		}
		hasher.Write([]byte{'|'})
	})

	base := pageURL
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	return base + "#" + strconv.FormatUint(hasher.Sum64(), 16)
}

// isXPath reports whether a selector string is an XPath expression rather
// than a CSS selector.
func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") ||
		strings.HasPrefix(selector, "./")
}
