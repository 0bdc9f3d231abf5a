// File: internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/store"
	"github.com/samuelvinay91/uniauto/internal/tracker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the slice of the service layer the HTTP handlers need.
type Engine interface {
	RunTestCase(ctx context.Context, tc *schemas.TestCase) (*schemas.ExecutionRecord, error)
	StartTestCase(ctx context.Context, tc *schemas.TestCase) (string, error)
	ExecutionStatus(executionID string) (schemas.ExecutionStatus, error)
	CancelExecution(executionID string) bool
}

// CaseStore persists test case definitions. Nil when the server runs
// without a database.
type CaseStore interface {
	SaveTestCase(ctx context.Context, tc *schemas.TestCase) error
	LoadTestCase(ctx context.Context, id string) (*schemas.TestCase, error)
	ListTestCases(ctx context.Context) ([]schemas.TestCase, error)
}

// Handlers manages HTTP request handling for the engine API.
type Handlers struct {
	log    *zap.Logger
	engine Engine
	cases  CaseStore
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, engine Engine, cases CaseStore) *Handlers {
	return &Handlers{
		log:    logger.Named("api_handlers"),
		engine: engine,
		cases:  cases,
	}
}

// RegisterRoutes sets up the routing for the engine server.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	// Health check endpoint (unversioned)
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/executions", h.HandleStartExecution)
		r.Get("/executions/{executionID}", h.HandleGetExecution)
		r.Delete("/executions/{executionID}", h.HandleCancelExecution)

		r.Put("/testcases", h.HandleSaveTestCase)
		r.Get("/testcases", h.HandleListTestCases)
		r.Get("/testcases/{testCaseID}", h.HandleGetTestCase)
	})
}

// HandleHealthCheck is a simple handler to confirm the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ExecutionRequest starts a run. Either an inline test case or the id of a
// stored one must be provided. Async requests return immediately with an
// execution id for polling.
type ExecutionRequest struct {
	TestCase   *schemas.TestCase `json:"test_case,omitempty"`
	TestCaseID string            `json:"test_case_id,omitempty"`
	Async      bool              `json:"async,omitempty"`
}

// HandleStartExecution runs a test case, synchronously or in the background.
func (h *Handlers) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	tc := req.TestCase
	if tc == nil {
		if req.TestCaseID == "" {
			h.respondWithError(w, http.StatusBadRequest, "Either test_case or test_case_id is required.")
			return
		}
		if h.cases == nil {
			h.respondWithError(w, http.StatusServiceUnavailable, "Test case storage is unavailable (database not configured).")
			return
		}
		loaded, err := h.cases.LoadTestCase(r.Context(), req.TestCaseID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Test case %s not found.", req.TestCaseID))
				return
			}
			h.log.Error("Failed to load test case", zap.String("test_case_id", req.TestCaseID), zap.Error(err))
			h.respondWithError(w, http.StatusInternalServerError, "Internal error loading test case.")
			return
		}
		tc = loaded
	}

	h.log.Info("Received execution request",
		zap.String("test_case_id", tc.ID),
		zap.Bool("async", req.Async))

	if req.Async {
		executionID, err := h.engine.StartTestCase(r.Context(), tc)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondWithStatus(w, http.StatusAccepted, "accepted", map[string]string{
			"execution_id": executionID,
		})
		return
	}

	record, err := h.engine.RunTestCase(r.Context(), tc)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, record)
}

// HandleGetExecution snapshots the state of a run.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	status, err := h.engine.ExecutionStatus(executionID)
	if err != nil {
		if errors.Is(err, tracker.ErrUnknownExecution) {
			h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Execution %s not found.", executionID))
			return
		}
		h.log.Error("Failed to read execution status", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error reading execution status.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, status)
}

// HandleCancelExecution requests cooperative cancellation of a run.
func (h *Handlers) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	if !h.engine.CancelExecution(executionID) {
		h.respondWithError(w, http.StatusConflict, "Execution is unknown or already finished.")
		return
	}
	h.respondWithStatus(w, http.StatusAccepted, "accepted", map[string]string{
		"execution_id": executionID,
	})
}

// HandleSaveTestCase stores a test case definition.
func (h *Handlers) HandleSaveTestCase(w http.ResponseWriter, r *http.Request) {
	if h.cases == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Test case storage is unavailable (database not configured).")
		return
	}

	var tc schemas.TestCase
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := tc.Validate(); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.cases.SaveTestCase(r.Context(), &tc); err != nil {
		h.log.Error("Failed to save test case", zap.String("test_case_id", tc.ID), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error saving test case.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]string{"test_case_id": tc.ID})
}

// HandleListTestCases returns the stored test case definitions.
func (h *Handlers) HandleListTestCases(w http.ResponseWriter, r *http.Request) {
	if h.cases == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Test case storage is unavailable (database not configured).")
		return
	}

	cases, err := h.cases.ListTestCases(r.Context())
	if err != nil {
		h.log.Error("Failed to list test cases", zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error listing test cases.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count":      len(cases),
		"test_cases": cases,
	})
}

// HandleGetTestCase returns a single stored test case.
func (h *Handlers) HandleGetTestCase(w http.ResponseWriter, r *http.Request) {
	if h.cases == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Test case storage is unavailable (database not configured).")
		return
	}

	id := chi.URLParam(r, "testCaseID")
	tc, err := h.cases.LoadTestCase(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("Test case %s not found.", id))
			return
		}
		h.log.Error("Failed to load test case", zap.String("test_case_id", id), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error loading test case.")
		return
	}
	h.respondWithSuccess(w, http.StatusOK, tc)
}

// APIResponse is the standardized envelope for all JSON responses.
type APIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithStatus(w, statusCode, "error", map[string]string{"error": message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respondWithStatus(w, statusCode, "success", data)
}

// respondWithStatus sends a standardized JSON response with a specific status string.
func (h *Handlers) respondWithStatus(w http.ResponseWriter, statusCode int, status string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := APIResponse{
		Status: status,
	}

	if errMap, ok := data.(map[string]string); ok && errMap["error"] != "" {
		resp.Error = errMap["error"]
	} else {
		resp.Data = data
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
