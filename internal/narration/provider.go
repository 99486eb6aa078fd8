// Package narration turns scripts into audio by sending segments, one at a
// time, to the automation backend's text-to-speech endpoints.
package narration

import (
	"errors"
	"fmt"
	"strings"
)

// Provider identifies one of the backend's TTS routes.
type Provider string

const (
	// ProviderElevenLabs is the high-quality cloud voice.
	ProviderElevenLabs Provider = "elevenlabs"
	// ProviderFree is the free cloud voice.
	ProviderFree Provider = "free"
	// ProviderLocal is a locally hosted voice server.
	ProviderLocal Provider = "local"
)

// ErrUnknownProvider is returned for provider names outside the closed set.
var ErrUnknownProvider = errors.New("unknown TTS provider")

var providerPaths = map[Provider]string{
	ProviderElevenLabs: "/api/automations/generate-tts",
	ProviderFree:       "/api/automations/generate-tts-free",
	ProviderLocal:      "/api/automations/generate-tts-local",
}

// Providers returns every supported provider.
func Providers() []Provider {
	return []Provider{ProviderElevenLabs, ProviderFree, ProviderLocal}
}

// ParseProvider validates a provider name.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := providerPaths[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Path returns the backend route that synthesizes speech for p.
func (p Provider) Path() string {
	return providerPaths[p]
}

// Voice holds the voice parameters sent alongside each segment. Zero values
// are omitted so the backend applies its own defaults.
type Voice struct {
	VoiceID    string  `json:"voice_id,omitempty"`
	Model      string  `json:"model,omitempty"`
	Language   string  `json:"language,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Stability  float64 `json:"stability,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// merge overlays non-zero fields of o onto v.
func (v Voice) merge(o Voice) Voice {
	if o.VoiceID != "" {
		v.VoiceID = o.VoiceID
	}
	if o.Model != "" {
		v.Model = o.Model
	}
	if o.Language != "" {
		v.Language = o.Language
	}
	if o.Speed != 0 {
		v.Speed = o.Speed
	}
	if o.Stability != 0 {
		v.Stability = o.Stability
	}
	if o.Similarity != 0 {
		v.Similarity = o.Similarity
	}
	return v
}
