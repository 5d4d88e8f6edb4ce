package domain

// KeyInfo is one node the frontend renders on the canvas graph.
type KeyInfo struct {
	ID          string `json:"id"`
	Keyword     string `json:"keyword"`
	Image       string `json:"image,omitempty"`
	Description string `json:"description,omitempty"`
	OtherInfo   string `json:"otherinfo,omitempty"`
}

// Connection is one edge between two KeyInfo nodes.
type Connection struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Relationship string `json:"relationship"`
}

// GraphData is the structured payload the completion model must reply with.
type GraphData struct {
	KeyInfo     []KeyInfo    `json:"keyinfo"`
	Connections []Connection `json:"connections"`
}

// CompletionResult holds the raw model reply and its parsed form.
// RawReply is preserved even when parsing fails, for diagnostics.
type CompletionResult struct {
	RawReply string
	Data     GraphData
}
