package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/narration"
	"github.com/jackzampolin/scriptcast/internal/svcctx"
)

const narrationsGroup = "narrations"

// CreateNarrationRequest is the request body for starting a narration.
// Either Text or ScriptTitle (a script saved in the library) is required.
type CreateNarrationRequest struct {
	Text         string                     `json:"text,omitempty"`
	ScriptTitle  string                     `json:"script_title,omitempty"`
	Provider     string                     `json:"provider,omitempty"`
	Voice        narration.Voice            `json:"voice"`
	Segmentation *narration.SegmentOverride `json:"segmentation,omitempty"`
	// Wait holds the response until the job finishes.
	Wait bool `json:"wait,omitempty"`
}

// NarrationListResponse lists narration jobs.
type NarrationListResponse struct {
	Jobs []narration.Snapshot `json:"jobs"`
}

// CreateNarrationEndpoint handles POST /api/narrations.
type CreateNarrationEndpoint struct{}

func (e *CreateNarrationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/narrations", e.handler
}

func (e *CreateNarrationEndpoint) RequiresInit() bool { return true }

func (e *CreateNarrationEndpoint) Group() string { return narrationsGroup }

func (e *CreateNarrationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req CreateNarrationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	orch := svcctx.OrchestratorFrom(ctx)
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "narration orchestrator not initialized")
		return
	}

	text := req.Text
	if strings.TrimSpace(text) == "" && req.ScriptTitle != "" {
		lib := svcctx.LibraryFrom(ctx)
		if lib == nil {
			writeError(w, http.StatusServiceUnavailable, "library not initialized")
			return
		}
		script, err := lib.Script(ctx, req.ScriptTitle)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		text = script.Text()
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "text or script_title is required")
		return
	}

	job, err := orch.Start(ctx, narration.Request{
		Text:         text,
		Provider:     narration.Provider(req.Provider),
		Voice:        req.Voice,
		Segmentation: req.Segmentation,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, job.Snapshot())
		return
	}

	snap, err := orch.Wait(ctx, job.ID)
	if err != nil {
		// Client went away; the job keeps running.
		writeJSON(w, http.StatusAccepted, snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (e *CreateNarrationEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		scriptTitle string
		provider    string
		voiceID     string
		maxChars    int
		noSplit     bool
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "start [file]",
		Short: "Start narrating a text file or a saved script",
		Long: `Start a narration job.

The text is read from the given file, or from the library with --script.
It is split into segments of at most --max-chars characters and each
segment is sent to the TTS backend in order, one request at a time.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := CreateNarrationRequest{
				ScriptTitle: scriptTitle,
				Provider:    provider,
				Voice:       narration.Voice{VoiceID: voiceID},
				Wait:        wait,
			}
			switch {
			case len(args) == 1:
				text, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", args[0], err)
				}
				req.Text = string(text)
			case scriptTitle == "":
				return errors.New("a file or --script is required")
			}
			if noSplit || maxChars != 0 {
				req.Segmentation = &narration.SegmentOverride{MaxChars: maxChars}
				if noSplit {
					disabled := false
					req.Segmentation.Enabled = &disabled
				}
			}

			client := api.NewClient(getServerURL())
			var resp narration.Snapshot
			if err := client.Post(cmd.Context(), "/api/narrations", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&scriptTitle, "script", "", "Title of a saved script to narrate")
	cmd.Flags().StringVar(&provider, "provider", "", "TTS provider: elevenlabs, free or local (default: configured)")
	cmd.Flags().StringVar(&voiceID, "voice", "", "Voice ID override")
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Segment budget in characters (default: configured)")
	cmd.Flags().BoolVar(&noSplit, "no-split", false, "Send the whole text as one segment")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the job to finish")
	return cmd
}

// ListNarrationsEndpoint handles GET /api/narrations.
type ListNarrationsEndpoint struct{}

func (e *ListNarrationsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/narrations", e.handler
}

func (e *ListNarrationsEndpoint) RequiresInit() bool { return true }

func (e *ListNarrationsEndpoint) Group() string { return narrationsGroup }

func (e *ListNarrationsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "narration orchestrator not initialized")
		return
	}

	jobs := orch.List()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.State) == state {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	writeJSON(w, http.StatusOK, NarrationListResponse{Jobs: jobs})
}

func (e *ListNarrationsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List narration jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/narrations"
			if state != "" {
				path += "?state=" + state
			}
			client := api.NewClient(getServerURL())
			var resp NarrationListResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (queued, running, completed, failed, cancelled)")
	return cmd
}

// GetNarrationEndpoint handles GET /api/narrations/{id}.
type GetNarrationEndpoint struct{}

func (e *GetNarrationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/narrations/{id}", e.handler
}

func (e *GetNarrationEndpoint) RequiresInit() bool { return true }

func (e *GetNarrationEndpoint) Group() string { return narrationsGroup }

func (e *GetNarrationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "narration orchestrator not initialized")
		return
	}

	job, err := orch.Get(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (e *GetNarrationEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a narration job, including completed segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp narration.Snapshot
			if err := client.Get(cmd.Context(), "/api/narrations/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CancelNarrationEndpoint handles POST /api/narrations/{id}/cancel.
type CancelNarrationEndpoint struct{}

func (e *CancelNarrationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/narrations/{id}/cancel", e.handler
}

func (e *CancelNarrationEndpoint) RequiresInit() bool { return true }

func (e *CancelNarrationEndpoint) Group() string { return narrationsGroup }

func (e *CancelNarrationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "narration orchestrator not initialized")
		return
	}

	snap, err := orch.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (e *CancelNarrationEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a narration job before its next segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp narration.Snapshot
			if err := client.Post(cmd.Context(), "/api/narrations/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// JoinNarrationRequest is the request body for joining a job's audio.
type JoinNarrationRequest struct {
	OutputName string `json:"output_name,omitempty"`
}

// JoinNarrationEndpoint handles POST /api/narrations/{id}/join.
type JoinNarrationEndpoint struct{}

func (e *JoinNarrationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/narrations/{id}/join", e.handler
}

func (e *JoinNarrationEndpoint) RequiresInit() bool { return true }

func (e *JoinNarrationEndpoint) Group() string { return narrationsGroup }

func (e *JoinNarrationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req JoinNarrationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "narration orchestrator not initialized")
		return
	}

	res, err := orch.Join(r.Context(), r.PathValue("id"), req.OutputName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (e *JoinNarrationEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outputName string
	cmd := &cobra.Command{
		Use:   "join <id>",
		Short: "Join a job's segment audio into one file on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp narration.JoinResult
			err := client.Post(cmd.Context(), "/api/narrations/"+args[0]+"/join",
				JoinNarrationRequest{OutputName: outputName}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&outputName, "output-name", "", "Name for the joined file (default: narration_<id>)")
	return cmd
}

// DownloadNarrationResponse lists the files written by a download.
type DownloadNarrationResponse struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

// DownloadNarrationEndpoint handles POST /api/narrations/{id}/download.
// Segment audio is saved under the server's home audio directory.
type DownloadNarrationEndpoint struct{}

func (e *DownloadNarrationEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/narrations/{id}/download", e.handler
}

func (e *DownloadNarrationEndpoint) RequiresInit() bool { return true }

func (e *DownloadNarrationEndpoint) Group() string { return narrationsGroup }

func (e *DownloadNarrationEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orch := svcctx.OrchestratorFrom(ctx)
	homeDir := svcctx.HomeFrom(ctx)
	if orch == nil || homeDir == nil {
		writeError(w, http.StatusServiceUnavailable, "narration orchestrator not initialized")
		return
	}

	id := r.PathValue("id")
	files, err := orch.Download(ctx, id, homeDir.AudioDir())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DownloadNarrationResponse{Dir: homeDir.JobAudioDir(id), Files: files})
}

func (e *DownloadNarrationEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "download <id>",
		Short: "Save a job's segment audio into the server's audio directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp DownloadNarrationResponse
			if err := client.Post(cmd.Context(), "/api/narrations/"+args[0]+"/download", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
