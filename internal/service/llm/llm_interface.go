package llm

import "context"

// LLMProvider defines the interface for streaming inference backends
type LLMProvider interface {
	// StreamCompletion opens a streaming completion. Retries happen before the
	// first chunk only; the returned Stream must be closed by the caller.
	StreamCompletion(ctx context.Context, messages []Message, params Params) (Stream, error)

	// GetDefaultModel returns the default model for this provider
	GetDefaultModel() string
}

// Stream is a finite, non-restartable sequence of chunks
type Stream interface {
	// Next advances to the next chunk; false at the end or on error
	Next() bool
	// Chunk returns the chunk Next advanced to
	Chunk() StreamChunk
	// Err returns the error that ended the stream, if any
	Err() error
	// Close releases the underlying connection
	Close() error
}

// Message is one chat turn sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are sampling parameters passed to the endpoint verbatim
type Params struct {
	Temperature  float64
	TopP         float64
	MaxNewTokens int
}

// ResponseUsage holds token counts reported by the endpoint
type ResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one piece of a streamed completion
type StreamChunk struct {
	Content string
	IsFinal bool
	// Usage is only set on the final chunk, when the endpoint reports it
	Usage *ResponseUsage
}

// SliceStream replays fixed chunks; the last one is marked final
type SliceStream struct {
	chunks []StreamChunk
	pos    int
	err    error
	closed bool
}

// NewSliceStream creates a stream over the given fragments
func NewSliceStream(fragments ...string) *SliceStream {
	chunks := make([]StreamChunk, 0, len(fragments)+1)
	for _, f := range fragments {
		chunks = append(chunks, StreamChunk{Content: f})
	}
	chunks = append(chunks, StreamChunk{IsFinal: true})
	return &SliceStream{chunks: chunks, pos: -1}
}

// NewFailingStream yields the fragments then ends with err
func NewFailingStream(err error, fragments ...string) *SliceStream {
	chunks := make([]StreamChunk, 0, len(fragments))
	for _, f := range fragments {
		chunks = append(chunks, StreamChunk{Content: f})
	}
	return &SliceStream{chunks: chunks, pos: -1, err: err}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.chunks) {
		s.pos = len(s.chunks)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Chunk() StreamChunk {
	if s.pos < 0 || s.pos >= len(s.chunks) {
		return StreamChunk{}
	}
	return s.chunks[s.pos]
}

func (s *SliceStream) Err() error {
	if s.pos >= len(s.chunks) {
		return s.err
	}
	return nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *SliceStream) Closed() bool {
	return s.closed
}
