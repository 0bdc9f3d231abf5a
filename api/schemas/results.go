// File: api/schemas/results.go
package schemas

import "time"

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// RunStatus is the overall outcome of one run of a test case.
type RunStatus string

const (
	// RunSuccess: every step succeeded.
	RunSuccess RunStatus = "success"
	// RunFailure: zero steps succeeded among those attempted.
	RunFailure RunStatus = "failure"
	// RunPartial: some steps succeeded, some did not.
	RunPartial RunStatus = "partial"
	// RunError: the surface itself failed; the run could not proceed.
	RunError RunStatus = "error"
)

// StepResult records how one step went, including what healing did.
type StepResult struct {
	Index            int           `json:"index"`
	Command          Command       `json:"command"`
	Status           StepStatus    `json:"status"`
	OriginalSelector string        `json:"original_selector,omitempty"`
	HealedSelector   string        `json:"healed_selector,omitempty"`
	Strategy         StrategyName  `json:"strategy,omitempty"`
	Healed           bool          `json:"healed,omitempty"`
	Attempts         int           `json:"attempts"`
	Error            string        `json:"error,omitempty"`
	// Screenshot references a diagnostic capture taken on failure.
	Screenshot string        `json:"screenshot,omitempty"`
	Extracted  string        `json:"extracted,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// ExecutionRecord is the immutable, persisted outcome of one run. Step
// results always appear in declared step order.
type ExecutionRecord struct {
	ExecutionID string        `json:"execution_id"`
	TestCaseID  string        `json:"test_case_id"`
	ExecutedAt  time.Time     `json:"executed_at"`
	Status      RunStatus     `json:"status"`
	Steps       []StepResult  `json:"steps"`
	// Cancelled marks a run that stopped early on caller request; the
	// record then holds results only for the steps that ran.
	Cancelled bool          `json:"cancelled,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// ComputeRunStatus applies the overall status law: success iff every step
// result is success; failure iff no step succeeded; partial otherwise.
func ComputeRunStatus(steps []StepResult) RunStatus {
	successes := 0
	for _, sr := range steps {
		if sr.Status == StepSuccess {
			successes++
		}
	}
	switch {
	case successes == len(steps):
		return RunSuccess
	case successes == 0:
		return RunFailure
	default:
		return RunPartial
	}
}

// ExecutionState is the lifecycle of a tracked run.
type ExecutionState string

const (
	ExecutionPending   ExecutionState = "pending"
	ExecutionRunning   ExecutionState = "running"
	ExecutionCompleted ExecutionState = "completed"
	ExecutionCancelled ExecutionState = "cancelled"
	ExecutionError     ExecutionState = "error"
)

// Terminal reports whether the state is final.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionCancelled, ExecutionError:
		return true
	}
	return false
}

// ExecutionStatus is the snapshot returned to polling callers.
type ExecutionStatus struct {
	ExecutionID string           `json:"execution_id"`
	State       ExecutionState   `json:"state"`
	Record      *ExecutionRecord `json:"record,omitempty"`
	Error       string           `json:"error,omitempty"`
}
