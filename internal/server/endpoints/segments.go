package endpoints

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/segment"
	"github.com/jackzampolin/scriptcast/internal/svcctx"
)

// SegmentsRequest is the request body for a segmentation preview.
// Enabled and MaxChars fall back to the configured segmentation.
type SegmentsRequest struct {
	Text     string `json:"text"`
	Enabled  *bool  `json:"enabled,omitempty"`
	MaxChars int    `json:"max_chars,omitempty"`
}

// SegmentsResponse lists the segments a narration of the text would send.
type SegmentsResponse struct {
	MaxChars    int               `json:"max_chars"`
	Enabled     bool              `json:"enabled"`
	Recommended bool              `json:"recommended"`
	Summary     segment.Summary   `json:"summary"`
	Segments    []segment.Segment `json:"segments"`
}

// SegmentsEndpoint handles POST /api/segments.
type SegmentsEndpoint struct{}

func (e *SegmentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/segments", e.handler
}

func (e *SegmentsEndpoint) RequiresInit() bool { return false }

func (e *SegmentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SegmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := segment.Options{Enabled: true, MaxChars: segment.DefaultBudget}
	if cfg := svcctx.ConfigFrom(r.Context()); cfg != nil {
		opts = cfg.SegmentOptions()
	}
	if req.Enabled != nil {
		opts.Enabled = *req.Enabled
	}
	if req.MaxChars != 0 {
		opts.MaxChars = req.MaxChars
	}

	resp, err := PreviewSegments(req.Text, opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PreviewSegments plans text with opts and summarizes the result.
func PreviewSegments(text string, opts segment.Options) (SegmentsResponse, error) {
	segs, err := segment.Plan(text, opts)
	if err != nil {
		return SegmentsResponse{}, err
	}
	if segs == nil {
		segs = []segment.Segment{}
	}
	budget := opts.MaxChars
	if budget == 0 {
		budget = segment.DefaultBudget
	}
	return SegmentsResponse{
		MaxChars:    budget,
		Enabled:     opts.Enabled,
		Recommended: segment.IsRecommended(budget),
		Summary:     segment.Stats(segs, budget),
		Segments:    segs,
	}, nil
}

func (e *SegmentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var maxChars int
	var noSplit bool
	cmd := &cobra.Command{
		Use:   "segments <file>",
		Short: "Preview how the server would segment a text file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			req := SegmentsRequest{Text: string(text), MaxChars: maxChars}
			if noSplit {
				disabled := false
				req.Enabled = &disabled
			}
			client := api.NewClient(getServerURL())
			var resp SegmentsResponse
			if err := client.Post(cmd.Context(), "/api/segments", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Segment budget in characters (default: configured)")
	cmd.Flags().BoolVar(&noSplit, "no-split", false, "Send the whole text as one segment")
	return cmd
}
