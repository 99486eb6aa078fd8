package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/segment"
	"github.com/jackzampolin/scriptcast/internal/server/endpoints"
)

var (
	segmentMaxChars int
	segmentNoSplit  bool
)

var segmentCmd = &cobra.Command{
	Use:   "segment <file>",
	Short: "Split a script into TTS-sized segments locally",
	Long: `Split a script into segments without a running server.

The budget and whether to split at all come from the segmentation section
of the config, the same settings the server uses. Use "-" to read the
script from stdin.

Examples:
  scriptcast segment script.txt
  scriptcast segment script.txt --max-chars 2000 -o json
  cat script.txt | scriptcast segment -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readScript(cmd, args[0])
		if err != nil {
			return err
		}
		_, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		opts := mgr.Get().SegmentOptions()
		if cmd.Flags().Changed("max-chars") {
			opts.MaxChars = segmentMaxChars
		}
		if segmentNoSplit {
			opts.Enabled = false
		}
		resp, err := endpoints.PreviewSegments(text, opts)
		if err != nil {
			return err
		}
		if !segment.IsRecommended(resp.MaxChars) {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d is not a recommended budget (%v)\n",
				resp.MaxChars, segment.RecommendedBudgets)
		}
		return api.Output(resp)
	},
}

func readScript(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func init() {
	segmentCmd.Flags().IntVar(&segmentMaxChars, "max-chars", 0, "Segment budget in characters (default: configured)")
	segmentCmd.Flags().BoolVar(&segmentNoSplit, "no-split", false, "Keep the whole text as one segment")

	rootCmd.AddCommand(segmentCmd)
}
