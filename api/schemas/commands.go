// File: api/schemas/commands.go
package schemas

import (
	"fmt"
	"strings"
)

// Command is the closed enumeration of automation step commands.
type Command string

const (
	CommandNavigate     Command = "navigate"
	CommandClick        Command = "click"
	CommandType         Command = "type"
	CommandSelect       Command = "select"
	CommandExtract      Command = "extract"
	CommandScreenshot   Command = "screenshot"
	CommandWait         Command = "wait"
	CommandDesktopClick Command = "desktop_click"
	CommandDesktopType  Command = "desktop_type"
)

// allCommands enumerates every valid command for validation and error messages.
var allCommands = []Command{
	CommandNavigate, CommandClick, CommandType, CommandSelect, CommandExtract,
	CommandScreenshot, CommandWait, CommandDesktopClick, CommandDesktopType,
}

// Known reports whether c is part of the closed command set.
func (c Command) Known() bool {
	for _, k := range allCommands {
		if c == k {
			return true
		}
	}
	return false
}

// NeedsTarget reports whether the command addresses a page element and
// therefore requires a locator. Desktop commands address absolute
// coordinates and never resolve a locator.
func (c Command) NeedsTarget() bool {
	switch c {
	case CommandClick, CommandType, CommandSelect, CommandExtract:
		return true
	}
	return false
}

// CommandParams is the per-command parameter shape. Each command pairs with
// exactly one concrete type; the pairing is enforced when a Step is
// validated, not at execution time.
type CommandParams interface {
	Validate() error
	// commandParams keeps the set of parameter shapes closed.
	commandParams() Command
}

// NavigateParams carries the destination for a navigate step.
type NavigateParams struct {
	URL string `json:"url"`
}

func (p NavigateParams) commandParams() Command { return CommandNavigate }

func (p NavigateParams) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("navigate: url is required")
	}
	return nil
}

// ClickParams tunes a click step. The zero value is a single left click.
type ClickParams struct {
	Button     string `json:"button,omitempty"` // "", "left", "right", "middle"
	ClickCount int    `json:"click_count,omitempty"`
}

func (p ClickParams) commandParams() Command { return CommandClick }

func (p ClickParams) Validate() error {
	switch p.Button {
	case "", "left", "right", "middle":
	default:
		return fmt.Errorf("click: unknown button %q", p.Button)
	}
	if p.ClickCount < 0 {
		return fmt.Errorf("click: click_count cannot be negative")
	}
	return nil
}

// TypeParams carries the text for a type step.
type TypeParams struct {
	Text       string `json:"text"`
	ClearFirst bool   `json:"clear_first,omitempty"`
}

func (p TypeParams) commandParams() Command { return CommandType }

func (p TypeParams) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("type: text is required")
	}
	return nil
}

// SelectParams names the option value to choose in a select element.
type SelectParams struct {
	Value string `json:"value"`
}

func (p SelectParams) commandParams() Command { return CommandSelect }

func (p SelectParams) Validate() error {
	if p.Value == "" {
		return fmt.Errorf("select: value is required")
	}
	return nil
}

// ExtractParams controls what an extract step reads from the element.
// An empty attribute means the element's visible text content.
type ExtractParams struct {
	Attribute string `json:"attribute,omitempty"`
}

func (p ExtractParams) commandParams() Command { return CommandExtract }

func (p ExtractParams) Validate() error { return nil }

// ScreenshotParams controls the capture of a screenshot step.
type ScreenshotParams struct {
	FullPage bool `json:"full_page,omitempty"`
}

func (p ScreenshotParams) commandParams() Command { return CommandScreenshot }

func (p ScreenshotParams) Validate() error { return nil }

// WaitParams waits for a fixed duration, or for a selector to appear when
// Selector is set.
type WaitParams struct {
	DurationMs int    `json:"duration_ms,omitempty"`
	Selector   string `json:"selector,omitempty"`
}

func (p WaitParams) commandParams() Command { return CommandWait }

func (p WaitParams) Validate() error {
	if p.DurationMs < 0 {
		return fmt.Errorf("wait: duration_ms cannot be negative")
	}
	if p.DurationMs == 0 && p.Selector == "" {
		return fmt.Errorf("wait: either duration_ms or selector is required")
	}
	return nil
}

// DesktopClickParams addresses an absolute screen coordinate.
type DesktopClickParams struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p DesktopClickParams) commandParams() Command { return CommandDesktopClick }

func (p DesktopClickParams) Validate() error {
	if p.X < 0 || p.Y < 0 {
		return fmt.Errorf("desktop_click: coordinates cannot be negative")
	}
	return nil
}

// DesktopTypeParams types raw text at the current focus.
type DesktopTypeParams struct {
	Text string `json:"text"`
}

func (p DesktopTypeParams) commandParams() Command { return CommandDesktopType }

func (p DesktopTypeParams) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("desktop_type: text is required")
	}
	return nil
}

// newParamsFor returns a zero-valued pointer to the parameter shape paired
// with the given command, used when decoding steps from JSON.
func newParamsFor(c Command) (CommandParams, error) {
	switch c {
	case CommandNavigate:
		return &NavigateParams{}, nil
	case CommandClick:
		return &ClickParams{}, nil
	case CommandType:
		return &TypeParams{}, nil
	case CommandSelect:
		return &SelectParams{}, nil
	case CommandExtract:
		return &ExtractParams{}, nil
	case CommandScreenshot:
		return &ScreenshotParams{}, nil
	case CommandWait:
		return &WaitParams{}, nil
	case CommandDesktopClick:
		return &DesktopClickParams{}, nil
	case CommandDesktopType:
		return &DesktopTypeParams{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrCommandUnsupported, string(c))
}
