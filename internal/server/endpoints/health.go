package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/drafts"
	"github.com/jackzampolin/scriptcast/internal/library"
	"github.com/jackzampolin/scriptcast/internal/narration"
	"github.com/jackzampolin/scriptcast/internal/segment"
	"github.com/jackzampolin/scriptcast/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string          `json:"server"`
	Backend   string          `json:"backend,omitempty"`
	Providers []string        `json:"providers"`
	Library   LibraryStatus   `json:"library"`
	Drafts    DraftsStatus    `json:"drafts"`
	Jobs      map[string]int  `json:"jobs"`
	Pacer     *PacerStatus    `json:"pacer,omitempty"`
	Segment   SegmentDefaults `json:"segmentation"`
}

// LibraryStatus shows the configured store and whether it answers.
type LibraryStatus struct {
	Backend string `json:"backend,omitempty"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

// DraftsStatus shows whether LLM drafting is available.
type DraftsStatus struct {
	Enabled bool   `json:"enabled"`
	Model   string `json:"model,omitempty"`
}

// PacerStatus mirrors narration.PacerStatus for the API.
type PacerStatus = narration.PacerStatus

// SegmentDefaults shows the configured segmentation.
type SegmentDefaults struct {
	Enabled     bool `json:"enabled"`
	MaxChars    int  `json:"max_chars"`
	Recommended bool `json:"recommended"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Server: "starting",
		Jobs:   map[string]int{},
	}
	for _, p := range narration.Providers() {
		resp.Providers = append(resp.Providers, string(p))
	}

	if cfg := svcctx.ConfigFrom(ctx); cfg != nil {
		resp.Backend = cfg.Backend.BaseURL
		resp.Library.Backend = cfg.Library.Backend
		opts := cfg.SegmentOptions()
		resp.Segment = SegmentDefaults{
			Enabled:     opts.Enabled,
			MaxChars:    opts.MaxChars,
			Recommended: segment.IsRecommended(opts.MaxChars),
		}
	}

	if orch := svcctx.OrchestratorFrom(ctx); orch != nil {
		resp.Server = "running"
		for _, snap := range orch.List() {
			resp.Jobs[string(snap.State)]++
		}
		pacer := orch.PacerStatus()
		resp.Pacer = &pacer
	}

	if lib := svcctx.LibraryFrom(ctx); lib != nil {
		if err := lib.Ping(ctx); err != nil {
			resp.Library.Error = err.Error()
		} else {
			resp.Library.OK = true
		}
	}

	if gen := svcctx.DraftsFrom(ctx); gen != nil {
		resp.Drafts = DraftsStatus{Enabled: gen.Enabled(), Model: gen.Model()}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse = api.ErrorResponse

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var backendErr *narration.BackendError
	var rateErr *narration.RateLimitError
	switch {
	case errors.Is(err, segment.ErrInvalidBudget),
		errors.Is(err, narration.ErrUnknownProvider),
		errors.Is(err, narration.ErrEmptyText),
		errors.Is(err, library.ErrInvalidKey),
		errors.Is(err, drafts.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, narration.ErrJobNotFound),
		errors.Is(err, library.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, narration.ErrJobFinished),
		errors.Is(err, narration.ErrNoAudio):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, drafts.ErrNotConfigured),
		errors.Is(err, narration.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &rateErr):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &backendErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
