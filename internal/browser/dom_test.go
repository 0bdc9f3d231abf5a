// File: internal/browser/dom_test.go
package browser

import (
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const fixturePage = `<!DOCTYPE html>
<html>
<head><title>Checkout</title><script>var x = "ignored";</script></head>
<body>
  <nav><a href="/home">Home</a><a href="/cart">Cart</a></nav>
  <main>
    <h1>Checkout</h1>
    <form id="payment" action="/pay">
      <input type="text" name="card" placeholder="Card number">
      <input type="checkbox" name="save-card">
      <button type="submit">Pay now</button>
      <a>anchor without href</a>
    </form>
    <div class="summary">
      <span>Total:</span>
      <span id="total">42.00</span>
    </div>
    <div role="button" aria-label="Close dialog">X</div>
  </main>
</body>
</html>`

func parseFixture(t *testing.T) *html.Node {
	t.Helper()
	doc, err := parseDocument(fixturePage)
	require.NoError(t, err)
	return doc
}

func findFirst(t *testing.T, doc *html.Node, xp string) *html.Node {
	t.Helper()
	n := htmlquery.FindOne(doc, xp)
	require.NotNil(t, n, "fixture must contain %s", xp)
	return n
}

func TestGenerateUniqueXPathAnchorsOnID(t *testing.T) {
	doc := parseFixture(t)

	button := findFirst(t, doc, "//button")
	assert.Equal(t, `//*[@id='payment']/button[1]`, generateUniqueXPath(button))

	total := findFirst(t, doc, "//span[@id='total']")
	assert.Equal(t, `//*[@id='total']`, generateUniqueXPath(total))

	// No id anywhere above: absolute path with 1-based sibling indices.
	cart := findFirst(t, doc, "//a[@href='/cart']")
	assert.Equal(t, "/html[1]/body[1]/nav[1]/a[2]", generateUniqueXPath(cart))
}

func TestGenerateUniqueXPathRoundTrips(t *testing.T) {
	doc := parseFixture(t)
	for _, source := range []string{"//button", "//span[@id='total']", "//input[@name='card']"} {
		node := findFirst(t, doc, source)
		xp := generateUniqueXPath(node)
		assert.Same(t, node, htmlquery.FindOne(doc, xp), "generated xpath %q must address the same node", xp)
	}
}

func TestAccessibleRole(t *testing.T) {
	doc := parseFixture(t)

	tests := []struct {
		name  string
		xpath string
		role  string
	}{
		{"submit button", "//button", "button"},
		{"explicit role wins", "//div[@role='button']", "button"},
		{"link", "//a[@href='/home']", "link"},
		{"anchor without href has no role", "//form/a", ""},
		{"text input", "//input[@name='card']", "textbox"},
		{"checkbox", "//input[@name='save-card']", "checkbox"},
		{"heading", "//h1", "heading"},
		{"navigation", "//nav", "navigation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.role, accessibleRole(findFirst(t, doc, tc.xpath)))
		})
	}
}

func TestAccessibleName(t *testing.T) {
	doc := parseFixture(t)

	assert.Equal(t, "Pay now", accessibleName(findFirst(t, doc, "//button")))
	assert.Equal(t, "Close dialog", accessibleName(findFirst(t, doc, "//div[@role='button']")),
		"aria-label wins over text content")
	assert.Equal(t, "Card number", accessibleName(findFirst(t, doc, "//input[@name='card']")),
		"placeholder is the fallback for empty inputs")
}

func TestFindByRole(t *testing.T) {
	doc := parseFixture(t)

	buttons := findByRole(doc, "button", "")
	require.Len(t, buttons, 2, "native button and role=button div")

	payNow := findByRole(doc, "button", "Pay now")
	require.Len(t, payNow, 1)
	assert.Equal(t, "button", payNow[0].Data)

	links := findByRole(doc, "link", "")
	assert.Len(t, links, 2, "the href-less anchor is not a link")

	assert.Empty(t, findByRole(doc, "button", "Nope"))
}

func TestFindByText(t *testing.T) {
	doc := parseFixture(t)

	exact := findByText(doc, "Pay now", true)
	require.Len(t, exact, 1)
	assert.Equal(t, "button", exact[0].Data)

	// Substring matches pick the deepest matching element, not the whole
	// containing div.
	sub := findByText(doc, "42.00", false)
	require.Len(t, sub, 1)
	assert.Equal(t, "span", sub[0].Data)
	assert.Equal(t, "total", htmlquery.SelectAttr(sub[0], "id"))

	assert.Empty(t, findByText(doc, "Pay now", false)[1:], "substring match is still unique here")
	assert.Empty(t, findByText(doc, "", true))
}

func TestVisibleTextSkipsScripts(t *testing.T) {
	doc := parseFixture(t)
	head := findFirst(t, doc, "//head")
	assert.Equal(t, "Checkout", visibleText(head))
}

func TestPageSignatureStability(t *testing.T) {
	docA, err := parseDocument(fixturePage)
	require.NoError(t, err)
	docB, err := parseDocument(fixturePage)
	require.NoError(t, err)

	sigA := pageSignature("https://shop.example.com/checkout?session=abc", docA)
	sigB := pageSignature("https://shop.example.com/checkout?other=xyz", docB)
	assert.Equal(t, sigA, sigB, "query strings do not change the signature")
	assert.Contains(t, sigA, "https://shop.example.com/checkout#")

	// Changed text content keeps the signature; changed structure breaks it.
	textChanged, err := parseDocument(
		`<html><body><div id="a"><p>hello</p></div></body></html>`)
	require.NoError(t, err)
	structureChanged, err := parseDocument(
		`<html><body><div id="b"><p>hello</p></div></body></html>`)
	require.NoError(t, err)
	sameText, err := parseDocument(
		`<html><body><div id="a"><p>goodbye</p></div></body></html>`)
	require.NoError(t, err)

	base := pageSignature("https://x.test/", textChanged)
	assert.Equal(t, base, pageSignature("https://x.test/", sameText))
	assert.NotEqual(t, base, pageSignature("https://x.test/", structureChanged))
}

func TestIsXPath(t *testing.T) {
	assert.True(t, isXPath("//button[1]"))
	assert.True(t, isXPath("/html/body/div[2]"))
	assert.True(t, isXPath("(//a)[1]"))
	assert.False(t, isXPath("#submit"))
	assert.False(t, isXPath("div.container > button"))
}
