package protocol

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionSnapshot    = "snapshot"
)

// Response types
const (
	TypeAck         = "ack"
	TypeError       = "error"
	TypeTicker      = "ticker"
	TypeSnapshot    = "snapshot"
	TypeStreamEnded = "stream_ended"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

// RequestPayload names the one symbol a connection follows.
type RequestPayload struct {
	Symbol string `json:"symbol"`
}

type WSResponse struct {
	Type    string      `json:"type"`             // see Type* constants
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Symbol  string      `json:"symbol,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}
