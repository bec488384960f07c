package feed

// Search filter values understood by the upstream service. The service is
// Chinese-language; the constants carry the exact strings it expects.
const (
	SortByLatest    = "最新"
	LocationAny     = "不限"
	NoteTypeImage   = "图文"
	PublishTimeAny  = "不限"
	SearchScopeNew  = "未看过"
	ModelTypeNote   = "note"
	ProtocolVersion = "2025-06-18"
)

// Candidate is one search result as returned by the feed service. Entries
// with an unknown model type are rejected downstream rather than parsed.
type Candidate struct {
	ModelType string    `json:"modelType"`
	ID        string    `json:"id"`
	NoteCard  *NoteCard `json:"noteCard"`
}

type NoteCard struct {
	DisplayTitle string `json:"displayTitle"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result *toolResult `json:"result"`
	Error  *rpcError   `json:"error"`
}

type toolResult struct {
	Content []toolContent `json:"content"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type searchEnvelope struct {
	Feeds []Candidate `json:"feeds"`
	Count int         `json:"count"`
}
