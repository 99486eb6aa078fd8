package endpoints

import (
	"github.com/jackzampolin/scriptcast/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&StatusEndpoint{},

		// Segmentation preview
		&SegmentsEndpoint{},

		// Narration endpoints
		&CreateNarrationEndpoint{},
		&ListNarrationsEndpoint{},
		&GetNarrationEndpoint{},
		&CancelNarrationEndpoint{},
		&JoinNarrationEndpoint{},
		&DownloadNarrationEndpoint{},

		// Library endpoints
		&GetLibraryEndpoint{Entity: EntityTitles},
		&PutLibraryEndpoint{Entity: EntityTitles},
		&GetLibraryEndpoint{Entity: EntityPremises},
		&PutLibraryEndpoint{Entity: EntityPremises},
		&GetLibraryEndpoint{Entity: EntityScripts},
		&PutLibraryEndpoint{Entity: EntityScripts},
		&ListAPIKeysEndpoint{},
		&SetAPIKeyEndpoint{},
		&DeleteAPIKeyEndpoint{},

		// Drafting endpoints
		&DraftTitlesEndpoint{},
		&DraftPremiseEndpoint{},
		&DraftScriptEndpoint{},
	}
}
