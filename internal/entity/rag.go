package entity

// RetrievedDocument is the normalized schema every retrieval backend returns.
type RetrievedDocument struct {
	Content    string  `json:"content"`
	Filename   string  `json:"filename"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"document_id"`
}

type RAGAnswer struct {
	Response      string   `json:"response"`
	Sources       []string `json:"sources"`
	HasContext    bool     `json:"has_context"`
	ContextChunks int      `json:"context_chunks"`
}
