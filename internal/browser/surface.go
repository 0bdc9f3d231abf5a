// File: internal/browser/surface.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/samuelvinay91/uniauto/api/schemas"
)

// Surface adapts one browser tab to the engine's surface contract. All
// failures are mapped onto the engine's typed error kinds.
type Surface struct {
	session        *Session
	visualDistance int
	logger         *zap.Logger
}

// Navigate loads the URL and waits for the document body to be ready.
func (s *Surface) Navigate(ctx context.Context, url string) error {
	if err := s.session.wait(ctx); err != nil {
		return s.classify(ctx, err)
	}
	navCtx, cancel := s.bound(ctx, s.session.cfg.NavTimeout)
	defer cancel()

	s.logger.Debug("Navigating", zap.String("url", url))
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return s.classify(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}
	return nil
}

// Query returns all matching elements in document order. Selector queries
// go straight through CDP; role and text queries parse the live document
// and walk it, returning generated XPaths.
func (s *Surface) Query(ctx context.Context, q schemas.ElementQuery) ([]schemas.ElementRef, error) {
	if q.Selector != "" {
		return s.queryBySelector(ctx, q.Selector)
	}

	doc, err := s.document(ctx)
	if err != nil {
		return nil, err
	}
	var nodes []*html.Node
	switch {
	case q.Role != "":
		nodes = findByRole(doc, q.Role, q.Name)
	case q.Text != "":
		nodes = findByText(doc, q.Text, q.ExactText)
	default:
		return nil, fmt.Errorf("empty element query")
	}

	refs := make([]schemas.ElementRef, 0, len(nodes))
	for _, n := range nodes {
		if xp := generateUniqueXPath(n); xp != "" && xp != "/" {
			refs = append(refs, schemas.ElementRef{Kind: schemas.RefXPath, Selector: xp})
		}
	}
	return refs, nil
}

func (s *Surface) queryBySelector(ctx context.Context, selector string) ([]schemas.ElementRef, error) {
	var nodes []*cdp.Node
	err := chromedp.Run(ctx,
		chromedp.Nodes(selector, &nodes, selectorOption(selector), chromedp.AtLeast(0)),
	)
	if err != nil {
		return nil, s.classify(ctx, fmt.Errorf("query %q: %w", selector, err))
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	kind := schemas.RefCSS
	if isXPath(selector) {
		kind = schemas.RefXPath
	}
	// A unique match keeps the declared selector; with several matches
	// each ref is addressed by its full XPath so they stay distinct.
	if len(nodes) == 1 {
		return []schemas.ElementRef{{Kind: kind, Selector: selector}}, nil
	}
	refs := make([]schemas.ElementRef, 0, len(nodes))
	for _, n := range nodes {
		refs = append(refs, schemas.ElementRef{Kind: schemas.RefXPath, Selector: n.FullXPath()})
	}
	return refs, nil
}

// Act performs a command against a bound element, or raw input for
// point-kind references.
func (s *Surface) Act(ctx context.Context, ref *schemas.ElementRef, cmd schemas.Command, params schemas.CommandParams) error {
	if err := s.session.wait(ctx); err != nil {
		return s.classify(ctx, err)
	}

	var err error
	switch cmd {
	case schemas.CommandClick:
		p, _ := params.(*schemas.ClickParams)
		if p == nil {
			p = &schemas.ClickParams{}
		}
		err = s.click(ctx, ref, p)
	case schemas.CommandType:
		p := params.(*schemas.TypeParams)
		err = s.typeText(ctx, ref, p)
	case schemas.CommandSelect:
		p := params.(*schemas.SelectParams)
		err = s.selectValue(ctx, ref, p.Value)
	case schemas.CommandDesktopClick:
		p := params.(*schemas.DesktopClickParams)
		err = s.dispatchClick(ctx, p.X, p.Y, input.Left, 1)
	case schemas.CommandDesktopType:
		p := params.(*schemas.DesktopTypeParams)
		err = s.dispatchKeys(ctx, p.Text)
	default:
		return fmt.Errorf("%w: %s", schemas.ErrCommandUnsupported, cmd)
	}
	if err != nil {
		return s.classify(ctx, fmt.Errorf("%s: %w", cmd, err))
	}
	return nil
}

func (s *Surface) click(ctx context.Context, ref *schemas.ElementRef, p *schemas.ClickParams) error {
	button := input.Left
	switch p.Button {
	case "right":
		button = input.Right
	case "middle":
		button = input.Middle
	}
	count := int64(1)
	if p.ClickCount > 1 {
		count = int64(p.ClickCount)
	}

	if ref == nil || ref.Kind == schemas.RefPoint {
		if ref == nil {
			return fmt.Errorf("click requires a bound element or a point")
		}
		return s.dispatchClick(ctx, ref.X, ref.Y, button, count)
	}
	return chromedp.Run(ctx, chromedp.Click(ref.Selector, selectorOption(ref.Selector)))
}

func (s *Surface) typeText(ctx context.Context, ref *schemas.ElementRef, p *schemas.TypeParams) error {
	if ref == nil || ref.Selector == "" {
		return s.dispatchKeys(ctx, p.Text)
	}
	opt := selectorOption(ref.Selector)
	actions := []chromedp.Action{chromedp.Focus(ref.Selector, opt)}
	if p.ClearFirst {
		actions = append(actions, chromedp.Clear(ref.Selector, opt))
	}
	actions = append(actions, chromedp.SendKeys(ref.Selector, p.Text, opt))
	return chromedp.Run(ctx, actions...)
}

func (s *Surface) selectValue(ctx context.Context, ref *schemas.ElementRef, value string) error {
	if ref == nil || ref.Selector == "" {
		return fmt.Errorf("select requires a bound element")
	}
	opt := selectorOption(ref.Selector)
	lookup := fmt.Sprintf(`document.querySelector(%q)`, ref.Selector)
	if isXPath(ref.Selector) {
		lookup = fmt.Sprintf(
			`document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue`,
			ref.Selector)
	}
	return chromedp.Run(ctx,
		chromedp.SetValue(ref.Selector, value, opt),
		// SetValue does not fire the change event synthetic UIs listen on.
		chromedp.Evaluate(fmt.Sprintf(
			`(() => { const el = %s; if (el) el.dispatchEvent(new Event('change', {bubbles: true})); })()`,
			lookup), nil),
	)
}

// dispatchClick sends raw press and release mouse events at page
// coordinates.
func (s *Surface) dispatchClick(ctx context.Context, x, y float64, button input.MouseButton, count int64) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, x, y).
			WithButton(button).
			WithClickCount(count)
		if err := press.Do(ctx); err != nil {
			return err
		}
		release := input.DispatchMouseEvent(input.MouseReleased, x, y).
			WithButton(button).
			WithClickCount(count)
		return release.Do(ctx)
	}))
}

// dispatchKeys sends text to whatever currently has focus, one char event
// per rune.
func (s *Surface) dispatchKeys(ctx context.Context, text string) error {
	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, r := range text {
			ev := input.DispatchKeyEvent(input.KeyChar).WithText(string(r))
			if err := ev.Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
}

// ReadAttribute reads an attribute, or text content when attr is empty or
// names a text pseudo-attribute.
func (s *Surface) ReadAttribute(ctx context.Context, ref *schemas.ElementRef, attr string) (string, error) {
	if ref == nil || ref.Selector == "" {
		return "", fmt.Errorf("extract requires a bound element")
	}
	opt := selectorOption(ref.Selector)

	var value string
	var err error
	switch attr {
	case "", "text", "textContent", "innerText":
		err = chromedp.Run(ctx, chromedp.Text(ref.Selector, &value, opt))
	case "innerHTML":
		err = chromedp.Run(ctx, chromedp.InnerHTML(ref.Selector, &value, opt))
	case "value":
		err = chromedp.Run(ctx, chromedp.Value(ref.Selector, &value, opt))
	default:
		var ok bool
		err = chromedp.Run(ctx, chromedp.AttributeValue(ref.Selector, attr, &value, &ok, opt))
		if err == nil && !ok {
			value = ""
		}
	}
	if err != nil {
		return "", s.classify(ctx, fmt.Errorf("read %q: %w", attr, err))
	}
	return strings.TrimSpace(value), nil
}

// Capture screenshots the viewport, or a clipped region, into the
// artifacts directory and returns the file path.
func (s *Surface) Capture(ctx context.Context, region *schemas.Region) (string, error) {
	var buf []byte
	var err error
	if region == nil {
		err = chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf))
	} else {
		err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			buf, err = page.CaptureScreenshot().
				WithClip(&page.Viewport{
					X:      region.X,
					Y:      region.Y,
					Width:  region.Width,
					Height: region.Height,
					Scale:  1,
				}).
				Do(ctx)
			return err
		}))
	}
	if err != nil {
		return "", s.classify(ctx, fmt.Errorf("capture: %w", err))
	}

	dir := s.session.cfg.ArtifactsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifacts dir: %w", err)
	}
	name := fmt.Sprintf("capture-%s-%s.png",
		time.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}

// PageSignature identifies the current surface state for scoping learned
// locators.
func (s *Surface) PageSignature(ctx context.Context) (string, error) {
	var location string
	var outer string
	err := chromedp.Run(ctx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &outer, chromedp.ByQuery),
	)
	if err != nil {
		return "", s.classify(ctx, fmt.Errorf("page signature: %w", err))
	}
	doc, err := parseDocument(outer)
	if err != nil {
		return "", err
	}
	return pageSignature(location, doc), nil
}

// document fetches and parses the live page.
func (s *Surface) document(ctx context.Context) (*html.Node, error) {
	var outer string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &outer, chromedp.ByQuery)); err != nil {
		return nil, s.classify(ctx, fmt.Errorf("fetch document: %w", err))
	}
	return parseDocument(outer)
}

// bound derives a child context with a timeout when one is configured.
func (s *Surface) bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classify maps low-level CDP failures onto the engine's typed errors. A
// dead tab context always means the surface is gone.
func (s *Surface) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if s.session.taskCtx.Err() != nil {
		return fmt.Errorf("%w: %v", schemas.ErrSurfaceUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "browser closed") {
		return fmt.Errorf("%w: %v", schemas.ErrSurfaceUnavailable, err)
	}
	return err
}

// selectorOption picks the CDP match mode for a selector string.
func selectorOption(selector string) chromedp.QueryOption {
	if isXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}
