package protocol

// OFFLINE_REQUEST (client -> server). The request references the persisted
// snapshot by save id; the server loads and recomputes from its own copy and
// never trusts a client-submitted resource delta.
type OfflineRequestMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	SaveID       string `json:"save_id"`
	LastActiveMs int64  `json:"last_active_ms"`
	NowMs        int64  `json:"now_ms,omitempty"` // server clock wins when omitted
}

// OFFLINE_RESPONSE (server -> client). Carries enough for the client to
// reconcile its optimistic local estimate against the authoritative result.
type OfflineResponseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	GrantID string `json:"grant_id"`

	// Per-resource amounts credited by the server.
	Gained map[string]float64 `json:"gained"`

	// Post-clamp, pre-efficiency elapsed duration.
	EffectiveElapsedMs int64 `json:"effective_elapsed_ms"`

	// The global efficiency factor the server applied.
	EfficiencyApplied float64 `json:"efficiency_applied"`
}

// EVENT (server -> observer stream).
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Kind       string  `json:"kind"`
	BuildingID string  `json:"building_id,omitempty"`
	ResourceID string  `json:"resource_id,omitempty"`
	StackID    string  `json:"stack_id,omitempty"`
	Count      int     `json:"count,omitempty"`
	Delta      float64 `json:"delta,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	SourceTag  string  `json:"source_tag,omitempty"`
}

// ERROR (server -> client).
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

const (
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrSaveNotFound    = "E_SAVE_NOT_FOUND"
	ErrSaveCorrupt     = "E_SAVE_CORRUPT"
	ErrBelowThreshold  = "E_BELOW_THRESHOLD"
	ErrInternal        = "E_INTERNAL"
)
