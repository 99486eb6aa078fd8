package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/library"
	"github.com/jackzampolin/scriptcast/internal/svcctx"
)

// Generated drafts are saved to the library unless the request sets DryRun.
const draftsGroup = "drafts"

// DraftTitlesRequest asks for title suggestions.
type DraftTitlesRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count,omitempty"`
	// UseSaved adds the saved titles to the prompt as style examples.
	UseSaved bool `json:"use_saved,omitempty"`
	DryRun   bool `json:"dry_run,omitempty"`
}

// DraftTitlesResponse lists generated titles.
type DraftTitlesResponse struct {
	Titles []library.Title `json:"titles"`
}

const defaultTitleCount = 10

// DraftTitlesEndpoint handles POST /api/drafts/titles.
type DraftTitlesEndpoint struct{}

func (e *DraftTitlesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/drafts/titles", e.handler
}

func (e *DraftTitlesEndpoint) RequiresInit() bool { return true }

func (e *DraftTitlesEndpoint) Group() string { return draftsGroup }

func (e *DraftTitlesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req DraftTitlesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = defaultTitleCount
	}

	ctx := r.Context()
	gen := svcctx.DraftsFrom(ctx)
	lib := svcctx.LibraryFrom(ctx)
	if gen == nil || lib == nil {
		writeError(w, http.StatusServiceUnavailable, "drafting not initialized")
		return
	}

	var examples []string
	if req.UseSaved {
		saved, err := lib.Titles(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		for _, t := range saved {
			examples = append(examples, t.Text)
		}
	}

	titles, err := gen.Titles(ctx, req.Topic, req.Count, examples)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !req.DryRun {
		if err := lib.AddTitles(ctx, titles); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, DraftTitlesResponse{Titles: titles})
}

func (e *DraftTitlesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req DraftTitlesRequest
	cmd := &cobra.Command{
		Use:   "titles <topic>",
		Short: "Generate video titles for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Topic = args[0]
			client := api.NewClient(getServerURL())
			var resp DraftTitlesResponse
			if err := client.Post(cmd.Context(), "/api/drafts/titles", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&req.Count, "count", defaultTitleCount, "Number of titles")
	cmd.Flags().BoolVar(&req.UseSaved, "use-saved", false, "Use saved titles as style examples")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Do not save the result")
	return cmd
}

// DraftPremiseRequest asks for a premise.
type DraftPremiseRequest struct {
	Title  string `json:"title"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// DraftPremiseEndpoint handles POST /api/drafts/premise.
type DraftPremiseEndpoint struct{}

func (e *DraftPremiseEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/drafts/premise", e.handler
}

func (e *DraftPremiseEndpoint) RequiresInit() bool { return true }

func (e *DraftPremiseEndpoint) Group() string { return draftsGroup }

func (e *DraftPremiseEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req DraftPremiseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	gen := svcctx.DraftsFrom(ctx)
	lib := svcctx.LibraryFrom(ctx)
	if gen == nil || lib == nil {
		writeError(w, http.StatusServiceUnavailable, "drafting not initialized")
		return
	}

	premise, err := gen.Premise(ctx, req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !req.DryRun {
		if err := lib.AddPremise(ctx, premise); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, premise)
}

func (e *DraftPremiseEndpoint) Command(getServerURL func() string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "premise <title>",
		Short: "Write a premise for a title",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp library.Premise
			req := DraftPremiseRequest{Title: args[0], DryRun: dryRun}
			if err := client.Post(cmd.Context(), "/api/drafts/premise", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Do not save the result")
	return cmd
}

// DraftScriptRequest asks for a chaptered script. When Premise is empty the
// saved premise for Title is used.
type DraftScriptRequest struct {
	Title    string `json:"title"`
	Premise  string `json:"premise,omitempty"`
	Chapters int    `json:"chapters,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

const defaultChapters = 5

// DraftScriptEndpoint handles POST /api/drafts/script.
type DraftScriptEndpoint struct{}

func (e *DraftScriptEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/drafts/script", e.handler
}

func (e *DraftScriptEndpoint) RequiresInit() bool { return true }

func (e *DraftScriptEndpoint) Group() string { return draftsGroup }

func (e *DraftScriptEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req DraftScriptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Chapters == 0 {
		req.Chapters = defaultChapters
	}

	ctx := r.Context()
	gen := svcctx.DraftsFrom(ctx)
	lib := svcctx.LibraryFrom(ctx)
	if gen == nil || lib == nil {
		writeError(w, http.StatusServiceUnavailable, "drafting not initialized")
		return
	}

	if req.Premise == "" {
		premises, err := lib.Premises(ctx)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		for _, p := range premises {
			if p.Title == req.Title {
				req.Premise = p.Text
			}
		}
	}

	script, err := gen.Script(ctx, req.Title, req.Premise, req.Chapters)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !req.DryRun {
		if err := lib.AddScript(ctx, script); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, script)
}

func (e *DraftScriptEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req DraftScriptRequest
	cmd := &cobra.Command{
		Use:   "script <title>",
		Short: "Write a chaptered script for a title",
		Long: `Write a chaptered script for a title.

Without --premise the premise saved for the title is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Title = args[0]
			client := api.NewClient(getServerURL())
			var resp library.Script
			if err := client.Post(cmd.Context(), "/api/drafts/script", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.Premise, "premise", "", "Premise text (default: the saved premise)")
	cmd.Flags().IntVar(&req.Chapters, "chapters", defaultChapters, "Number of chapters")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Do not save the result")
	return cmd
}
