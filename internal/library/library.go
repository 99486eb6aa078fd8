package library

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/scriptcast/internal/segment"
)

// Storage keys, one per entity.
const (
	KeyTitles   = "titles"
	KeyPremises = "premises"
	KeyScripts  = "scripts"
	KeyAPIKeys  = "api_keys"
)

// Title is a video title, either extracted from a source video or generated.
type Title struct {
	Text        string    `json:"text"`
	SourceVideo string    `json:"source_video,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Premise is the story premise written for a title.
type Premise struct {
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Chapter is one section of a script.
type Chapter struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// Script is a full narration script, stored either as chapters or as a
// single body.
type Script struct {
	Title     string    `json:"title"`
	Premise   string    `json:"premise,omitempty"`
	Chapters  []Chapter `json:"chapters,omitempty"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Text returns the narration source: chapter contents separated by blank
// lines, or Body when there are no non-empty chapters.
func (s Script) Text() string {
	contents := make([]string, len(s.Chapters))
	for i, c := range s.Chapters {
		contents[i] = c.Content
	}
	if text := segment.AssembleChapters(contents); text != "" {
		return text
	}
	return strings.TrimSpace(s.Body)
}

// Library stores typed artifacts on top of a Backend.
type Library struct {
	backend Backend
	logger  *slog.Logger
	// serializes writes so Save* and Add* never interleave
	mu sync.Mutex
}

// New wraps a backend.
func New(backend Backend, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{backend: backend, logger: logger.With("component", "library")}
}

// Ping checks the backend when it supports it.
func (l *Library) Ping(ctx context.Context) error {
	if p, ok := l.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the backend.
func (l *Library) Close(ctx context.Context) error {
	return l.backend.Close(ctx)
}

func load[T any](ctx context.Context, b Backend, key string) (T, error) {
	var v T
	data, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

func (l *Library) store(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := l.backend.Put(ctx, key, data); err != nil {
		return err
	}
	l.logger.Debug("library saved", "key", key, "bytes", len(data))
	return nil
}

// Titles returns saved titles; none saved yields an empty slice.
func (l *Library) Titles(ctx context.Context) ([]Title, error) {
	titles, err := load[[]Title](ctx, l.backend, KeyTitles)
	if titles == nil && err == nil {
		titles = []Title{}
	}
	return titles, err
}

// SaveTitles replaces the saved titles.
func (l *Library) SaveTitles(ctx context.Context, titles []Title) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveTitles(ctx, titles)
}

func (l *Library) saveTitles(ctx context.Context, titles []Title) error {
	return l.store(ctx, KeyTitles, stamp(titles, func(t *Title) *time.Time { return &t.CreatedAt }))
}

// AddTitles appends titles, skipping any whose text is already saved.
func (l *Library) AddTitles(ctx context.Context, titles []Title) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.Titles(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, t := range existing {
		seen[t.Text] = true
	}
	for _, t := range titles {
		if !seen[t.Text] {
			seen[t.Text] = true
			existing = append(existing, t)
		}
	}
	return l.saveTitles(ctx, existing)
}

// Premises returns saved premises.
func (l *Library) Premises(ctx context.Context) ([]Premise, error) {
	premises, err := load[[]Premise](ctx, l.backend, KeyPremises)
	if premises == nil && err == nil {
		premises = []Premise{}
	}
	return premises, err
}

// SavePremises replaces the saved premises.
func (l *Library) SavePremises(ctx context.Context, premises []Premise) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.savePremises(ctx, premises)
}

func (l *Library) savePremises(ctx context.Context, premises []Premise) error {
	return l.store(ctx, KeyPremises, stamp(premises, func(p *Premise) *time.Time { return &p.CreatedAt }))
}

// AddPremise appends a premise, replacing any earlier one for the same title.
func (l *Library) AddPremise(ctx context.Context, p Premise) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	premises, err := l.Premises(ctx)
	if err != nil {
		return err
	}
	out := premises[:0]
	for _, existing := range premises {
		if existing.Title != p.Title {
			out = append(out, existing)
		}
	}
	return l.savePremises(ctx, append(out, p))
}

// Scripts returns saved scripts.
func (l *Library) Scripts(ctx context.Context) ([]Script, error) {
	scripts, err := load[[]Script](ctx, l.backend, KeyScripts)
	if scripts == nil && err == nil {
		scripts = []Script{}
	}
	return scripts, err
}

// SaveScripts replaces the saved scripts.
func (l *Library) SaveScripts(ctx context.Context, scripts []Script) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveScripts(ctx, scripts)
}

func (l *Library) saveScripts(ctx context.Context, scripts []Script) error {
	return l.store(ctx, KeyScripts, stamp(scripts, func(s *Script) *time.Time { return &s.CreatedAt }))
}

// AddScript appends a script, replacing any earlier one with the same title.
func (l *Library) AddScript(ctx context.Context, s Script) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	scripts, err := l.Scripts(ctx)
	if err != nil {
		return err
	}
	out := scripts[:0]
	for _, existing := range scripts {
		if existing.Title != s.Title {
			out = append(out, existing)
		}
	}
	return l.saveScripts(ctx, append(out, s))
}

// Script finds a saved script by title.
func (l *Library) Script(ctx context.Context, title string) (Script, error) {
	scripts, err := l.Scripts(ctx)
	if err != nil {
		return Script{}, err
	}
	for _, s := range scripts {
		if s.Title == title {
			return s, nil
		}
	}
	return Script{}, fmt.Errorf("script %q: %w", title, ErrNotFound)
}

// APIKeys returns the saved provider keys.
func (l *Library) APIKeys(ctx context.Context) (map[string]string, error) {
	keys, err := load[map[string]string](ctx, l.backend, KeyAPIKeys)
	if keys == nil && err == nil {
		keys = map[string]string{}
	}
	return keys, err
}

// APIKey returns the key saved for provider.
func (l *Library) APIKey(ctx context.Context, provider string) (string, error) {
	keys, err := l.APIKeys(ctx)
	if err != nil {
		return "", err
	}
	key, ok := keys[provider]
	if !ok {
		return "", fmt.Errorf("api key for %q: %w", provider, ErrNotFound)
	}
	return key, nil
}

// SaveAPIKey sets the key for provider.
func (l *Library) SaveAPIKey(ctx context.Context, provider, key string) error {
	if err := ValidateKey(provider); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.APIKeys(ctx)
	if err != nil {
		return err
	}
	keys[provider] = key
	return l.store(ctx, KeyAPIKeys, keys)
}

// DeleteAPIKey removes the key for provider.
func (l *Library) DeleteAPIKey(ctx context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys, err := l.APIKeys(ctx)
	if err != nil {
		return err
	}
	if _, ok := keys[provider]; !ok {
		return fmt.Errorf("api key for %q: %w", provider, ErrNotFound)
	}
	delete(keys, provider)
	return l.store(ctx, KeyAPIKeys, keys)
}

// MaskedAPIKeys returns provider keys with all but the last four characters
// hidden, sorted by provider.
func (l *Library) MaskedAPIKeys(ctx context.Context) ([]MaskedKey, error) {
	keys, err := l.APIKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MaskedKey, 0, len(keys))
	for provider, key := range keys {
		out = append(out, MaskedKey{Provider: provider, Key: MaskKey(key)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// MaskedKey is an API key safe to display.
type MaskedKey struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
}

// MaskKey hides all but the last four characters of key.
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

// stamp sets CreatedAt on items that have none.
func stamp[T any](items []T, at func(*T) *time.Time) []T {
	now := time.Now().UTC()
	for i := range items {
		if ts := at(&items[i]); ts.IsZero() {
			*ts = now
		}
	}
	return items
}
