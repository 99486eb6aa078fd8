package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

// DefaultOutput is the default output format.
const DefaultOutput = OutputFormatYAML

var (
	outputMu     sync.RWMutex
	outputFormat OutputFormat = DefaultOutput
	outputWriter io.Writer    = os.Stdout
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(format string) (OutputFormat, error) {
	switch OutputFormat(format) {
	case OutputFormatJSON, OutputFormatYAML:
		return OutputFormat(format), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want yaml or json)", format)
	}
}

// SetOutputFormat sets the format used by Output. It is called from the
// root command's --output flag.
func SetOutputFormat(format string) error {
	f, err := ParseOutputFormat(format)
	if err != nil {
		return err
	}
	outputMu.Lock()
	outputFormat = f
	outputMu.Unlock()
	return nil
}

// SetOutputWriter redirects Output, mostly for tests.
func SetOutputWriter(w io.Writer) {
	outputMu.Lock()
	outputWriter = w
	outputMu.Unlock()
}

// Output writes data in the configured format.
func Output(data any) error {
	outputMu.RLock()
	w, f := outputWriter, outputFormat
	outputMu.RUnlock()
	return OutputTo(w, f, data)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		// Round-trip through JSON so yaml keys follow the json tags.
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
