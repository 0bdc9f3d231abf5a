// File: api/schemas/testcase.go
package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultStepTimeout bounds a single execution attempt when the step does
// not declare its own timeout.
const DefaultStepTimeout = 10 * time.Second

// TestCase is an ordered sequence of automation steps. A run operates on a
// snapshot; the engine never mutates a test case.
type TestCase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Steps       []Step    `json:"steps"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Validate checks the test case and every step in it.
func (tc *TestCase) Validate() error {
	if tc.Name == "" {
		return fmt.Errorf("test case name is required")
	}
	if len(tc.Steps) == 0 {
		return fmt.Errorf("test case %q has no steps", tc.Name)
	}
	for i := range tc.Steps {
		if err := tc.Steps[i].Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Step is one command plus its parameters and per-step execution policy.
type Step struct {
	Command Command            `json:"command"`
	Target  *LocatorDescriptor `json:"target,omitempty"`
	Params  CommandParams      `json:"parameters,omitempty"`
	// TimeoutMs bounds each execution attempt. Zero means DefaultStepTimeout.
	TimeoutMs int `json:"timeout_ms,omitempty"`
	// RetryOnFailure defaults to true when omitted.
	RetryOnFailure *bool `json:"retry_on_failure,omitempty"`
	SkipIfFailed   bool  `json:"skip_if_failed,omitempty"`
}

// Timeout returns the per-attempt execution bound.
func (s *Step) Timeout() time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return DefaultStepTimeout
}

// Retry reports whether failed attempts should be retried.
func (s *Step) Retry() bool {
	if s.RetryOnFailure == nil {
		return true
	}
	return *s.RetryOnFailure
}

// Validate enforces the command/parameter pairing and the locator invariant:
// element-targeted commands must carry a non-empty primary locator.
func (s *Step) Validate() error {
	if !s.Command.Known() {
		return fmt.Errorf("%w: %q", ErrCommandUnsupported, string(s.Command))
	}
	if s.Command.NeedsTarget() {
		if s.Target == nil || s.Target.Empty() {
			return fmt.Errorf("command %q requires a target locator", s.Command)
		}
		if s.Target.Selector == "" {
			return fmt.Errorf("command %q requires a primary selector", s.Command)
		}
	}
	if s.Params == nil {
		// Commands whose parameter shape has required fields cannot run
		// without parameters.
		switch s.Command {
		case CommandNavigate, CommandType, CommandSelect, CommandWait,
			CommandDesktopClick, CommandDesktopType:
			return fmt.Errorf("command %q requires parameters", s.Command)
		}
		return nil
	}
	if got := s.Params.commandParams(); got != s.Command {
		return fmt.Errorf("parameters for %q given to %q step", got, s.Command)
	}
	return s.Params.Validate()
}

// stepEnvelope mirrors Step with raw parameters so UnmarshalJSON can pick
// the concrete shape after the command is known.
type stepEnvelope struct {
	Command        Command            `json:"command"`
	Target         *LocatorDescriptor `json:"target,omitempty"`
	Params         json.RawMessage    `json:"parameters,omitempty"`
	TimeoutMs      int                `json:"timeout_ms,omitempty"`
	RetryOnFailure *bool              `json:"retry_on_failure,omitempty"`
	SkipIfFailed   bool               `json:"skip_if_failed,omitempty"`
}

// UnmarshalJSON decodes a step, dispatching the parameters payload to the
// concrete type paired with the declared command.
func (s *Step) UnmarshalJSON(data []byte) error {
	var env stepEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	s.Command = env.Command
	s.Target = env.Target
	s.TimeoutMs = env.TimeoutMs
	s.RetryOnFailure = env.RetryOnFailure
	s.SkipIfFailed = env.SkipIfFailed
	s.Params = nil

	if len(env.Params) == 0 || string(env.Params) == "null" {
		return nil
	}
	params, err := newParamsFor(env.Command)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Params, params); err != nil {
		return fmt.Errorf("decode %q parameters: %w", env.Command, err)
	}
	s.Params = params
	return nil
}
