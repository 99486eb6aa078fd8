package narration

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const defaultAudioExt = ".mp3"

// Download saves every generated segment of a job under dir/<job id>/ as
// segment_0001.mp3, segment_0002.mp3, ... and returns the written paths.
// Partial results of failed or cancelled jobs are downloaded as well.
func (o *Orchestrator) Download(ctx context.Context, id, dir string) ([]string, error) {
	job, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	snap := job.Snapshot()
	if len(snap.Results) == 0 {
		return nil, ErrNoAudio
	}

	jobDir := filepath.Join(dir, snap.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	paths := make([]string, 0, len(snap.Results))
	for _, res := range snap.Results {
		dest := filepath.Join(jobDir, fmt.Sprintf("segment_%04d%s", res.Index, audioExt(res)))
		if err := o.fetchTo(ctx, res.AudioURL, dest); err != nil {
			return paths, fmt.Errorf("segment %d: %w", res.Index, err)
		}
		paths = append(paths, dest)
	}

	o.logger.Info("narration audio downloaded", "job_id", id, "files", len(paths), "dir", jobDir)
	return paths, nil
}

// fetchTo streams audioURL into dest via a temp file so that a failed
// download never leaves a truncated file behind.
func (o *Orchestrator) fetchTo(ctx context.Context, audioURL, dest string) error {
	body, err := o.synth.Fetch(ctx, audioURL)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".segment-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close audio file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move audio file: %w", err)
	}
	return nil
}

// audioExt picks the extension from the backend filename, then the URL.
func audioExt(res SegmentResult) string {
	if ext := path.Ext(res.Filename); ext != "" {
		return strings.ToLower(ext)
	}
	if u, err := url.Parse(res.AudioURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return strings.ToLower(ext)
		}
	}
	return defaultAudioExt
}
