package remote

// Frame is one JSON message of the hub wire protocol, in both directions.
//
// Client → hub ops: "subscribe", "unsubscribe", "read", "write",
// "update", "delete". Hub → client ops: "snapshot" (one per change at or
// under a subscribed path, carrying the subscription's request id) and
// "result" (the ack for read/write/update/delete; a read result also
// carries exists+value).
type Frame struct {
	Op       string           `json:"op"`
	ID       int64            `json:"id,omitempty"`
	Path     string           `json:"path,omitempty"`
	// Value must not be omitempty: false and 0 are legitimate payloads,
	// and only a true JSON null means "no value".
	Value    any              `json:"value"`
	Children map[string]Value `json:"children,omitempty"`
	Exists   bool             `json:"exists,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Frame op constants.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpRead        = "read"
	OpWrite       = "write"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpSnapshot    = "snapshot"
	OpResult      = "result"
)
