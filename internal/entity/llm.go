package entity

type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// StreamChunk is one increment of a streamed completion. A chunk with a
// non-nil Err is the last one sent.
type StreamChunk struct {
	Text string
	Err  error
}
