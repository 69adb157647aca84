package tracking

import "encoding/json"

// ReturnCode classifies why an operation did not succeed.
type ReturnCode string

const (
	// CodeMissingParams means the caller omitted required identifiers; no
	// network call was attempted.
	CodeMissingParams ReturnCode = "missing_params"
	// CodeNoResponse means the request was sent but no acknowledgment or
	// response ever arrived.
	CodeNoResponse ReturnCode = "no_response"
	// CodeUnknownReason means a response arrived, indicated failure, and
	// carried no further detail.
	CodeUnknownReason ReturnCode = "unknown_reason"
	// CodeExpired means the data source signals the shared session has
	// expired. It is propagated, not treated as a request failure.
	CodeExpired ReturnCode = "expired"
)

// Result is the structured outcome delivered to operation callbacks. Failures
// are always values on the callback path, never panics or raw errors.
type Result struct {
	Success bool       `json:"success"`
	RC      ReturnCode `json:"rc,omitempty"`
	Error   string     `json:"error,omitempty"`
	Message string     `json:"message,omitempty"`
	Expired bool       `json:"expired,omitempty"`

	// URL and NoteID are returned by the signature upload endpoint.
	URL    string `json:"url,omitempty"`
	NoteID int64  `json:"note_id,omitempty"`

	// SharedLocation is embedded in successful watch-order acknowledgments
	// and carries an authoritative configuration snapshot.
	SharedLocation *SharedConfig `json:"shared_location,omitempty"`
}

// ResultFunc receives the outcome of an asynchronous operation.
type ResultFunc func(*Result)

func failure(rc ReturnCode, msg string) *Result {
	return &Result{Success: false, RC: rc, Error: msg}
}

// decodeResult interprets a raw acknowledgment payload. A missing or
// unparseable payload is indistinguishable from no acknowledgment at all.
func decodeResult(raw []byte) *Result {
	if len(raw) == 0 {
		return nil
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	return &result
}
