package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scriptcast/internal/api"
	"github.com/jackzampolin/scriptcast/internal/library"
	"github.com/jackzampolin/scriptcast/internal/svcctx"
)

const libraryGroup = "library"

// Entity names a collection in the library.
type Entity string

const (
	EntityTitles   Entity = library.KeyTitles
	EntityPremises Entity = library.KeyPremises
	EntityScripts  Entity = library.KeyScripts
)

// load reads the entity's items.
func (e Entity) load(ctx context.Context, lib *library.Library) (any, error) {
	switch e {
	case EntityTitles:
		return lib.Titles(ctx)
	case EntityPremises:
		return lib.Premises(ctx)
	case EntityScripts:
		return lib.Scripts(ctx)
	}
	return nil, fmt.Errorf("unknown library entity %q", e)
}

// save decodes raw as the entity's item list and replaces the saved items.
func (e Entity) save(ctx context.Context, lib *library.Library, raw json.RawMessage) error {
	switch e {
	case EntityTitles:
		var items []library.Title
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return lib.SaveTitles(ctx, items)
	case EntityPremises:
		var items []library.Premise
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return lib.SavePremises(ctx, items)
	case EntityScripts:
		var items []library.Script
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("%w: %v", errInvalidBody, err)
		}
		return lib.SaveScripts(ctx, items)
	}
	return fmt.Errorf("unknown library entity %q", e)
}

var errInvalidBody = errors.New("invalid request body")

// GetLibraryEndpoint handles GET /api/library/{titles|premises|scripts}.
type GetLibraryEndpoint struct {
	Entity Entity
}

func (e *GetLibraryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/library/" + string(e.Entity), e.handler
}

func (e *GetLibraryEndpoint) RequiresInit() bool { return true }

func (e *GetLibraryEndpoint) Group() string { return libraryGroup }

func (e *GetLibraryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	items, err := e.Entity.load(r.Context(), lib)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (e *GetLibraryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   string(e.Entity),
		Short: fmt.Sprintf("List saved %s", e.Entity),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []map[string]any
			if err := client.Get(cmd.Context(), "/api/library/"+string(e.Entity), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PutLibraryEndpoint handles PUT /api/library/{titles|premises|scripts}.
// The body is the complete list; it replaces what was saved.
type PutLibraryEndpoint struct {
	Entity Entity
}

func (e *PutLibraryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/library/" + string(e.Entity), e.handler
}

func (e *PutLibraryEndpoint) RequiresInit() bool { return true }

func (e *PutLibraryEndpoint) Group() string { return libraryGroup }

func (e *PutLibraryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	lib := svcctx.LibraryFrom(ctx)
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	if err := e.Entity.save(ctx, lib, raw); err != nil {
		if errors.Is(err, errInvalidBody) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}

	items, err := e.Entity.load(ctx, lib)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (e *PutLibraryEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-" + string(e.Entity) + " <file.json>",
		Short: fmt.Sprintf("Replace saved %s with a JSON list from a file", e.Entity),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var body json.RawMessage
			if err := json.Unmarshal(data, &body); err != nil {
				return fmt.Errorf("%s is not valid JSON: %w", args[0], err)
			}
			client := api.NewClient(getServerURL())
			var resp []map[string]any
			if err := client.Put(cmd.Context(), "/api/library/"+string(e.Entity), body, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// APIKeysResponse lists saved API keys, masked.
type APIKeysResponse struct {
	Keys []library.MaskedKey `json:"keys"`
}

// ListAPIKeysEndpoint handles GET /api/library/api-keys.
type ListAPIKeysEndpoint struct{}

func (e *ListAPIKeysEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/library/api-keys", e.handler
}

func (e *ListAPIKeysEndpoint) RequiresInit() bool { return true }

func (e *ListAPIKeysEndpoint) Group() string { return libraryGroup }

func (e *ListAPIKeysEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	keys, err := lib.MaskedAPIKeys(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, APIKeysResponse{Keys: keys})
}

func (e *ListAPIKeysEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "api-keys",
		Short: "List saved API keys (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp APIKeysResponse
			if err := client.Get(cmd.Context(), "/api/library/api-keys", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// SetAPIKeyRequest is the request body for saving an API key.
type SetAPIKeyRequest struct {
	Key string `json:"key"`
}

// SetAPIKeyEndpoint handles PUT /api/library/api-keys/{provider}.
type SetAPIKeyEndpoint struct{}

func (e *SetAPIKeyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/library/api-keys/{provider}", e.handler
}

func (e *SetAPIKeyEndpoint) RequiresInit() bool { return true }

func (e *SetAPIKeyEndpoint) Group() string { return libraryGroup }

func (e *SetAPIKeyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SetAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	provider := r.PathValue("provider")
	if err := lib.SaveAPIKey(r.Context(), provider, req.Key); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, library.MaskedKey{Provider: provider, Key: library.MaskKey(req.Key)})
}

func (e *SetAPIKeyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "set-api-key <provider> <key>",
		Short: "Save an API key for a provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp library.MaskedKey
			err := client.Put(cmd.Context(), "/api/library/api-keys/"+args[0], SetAPIKeyRequest{Key: args[1]}, &resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DeleteAPIKeyEndpoint handles DELETE /api/library/api-keys/{provider}.
type DeleteAPIKeyEndpoint struct{}

func (e *DeleteAPIKeyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/library/api-keys/{provider}", e.handler
}

func (e *DeleteAPIKeyEndpoint) RequiresInit() bool { return true }

func (e *DeleteAPIKeyEndpoint) Group() string { return libraryGroup }

func (e *DeleteAPIKeyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	if err := lib.DeleteAPIKey(r.Context(), r.PathValue("provider")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteAPIKeyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-api-key <provider>",
		Short: "Remove the saved API key for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/library/api-keys/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted API key for %s\n", args[0])
			return nil
		},
	}
}
