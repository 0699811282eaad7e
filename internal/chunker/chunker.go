package chunker

import (
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

// ChunkConfig controls how turn pairs are turned into chunk text.
type ChunkConfig struct {
	// MaxTokens caps a chunk's text so it stays within the embedding
	// model's input limit. Zero disables the cap.
	MaxTokens int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxTokens: 8000,
	}
}

// Chunker splits a session transcript into one chunk per user turn and
// the assistant replies that follow it.
//
// Assistant turns before the first user turn are ignored. A user turn
// followed directly by another user turn closes with an empty assistant
// part. A final user turn with no reply yet is buffered: it is not
// emitted until a later increment of the transcript contains its reply.
// The last emitted pair is open until the next user turn arrives; its text
// grows as further assistant turns are appended.
type Chunker struct {
	cfg       ChunkConfig
	tokenizer Tokenizer
}

func New(cfg ChunkConfig, tokenizer Tokenizer) *Chunker {
	if tokenizer == nil {
		tokenizer = EstimateTokenizer{}
	}
	return &Chunker{cfg: cfg, tokenizer: tokenizer}
}

type pair struct {
	user      transcript.Turn
	assistant []string
}

// Chunks lazily yields the chunks of a session starting at sequence
// number from. Identical turns always yield identical chunks.
func (c *Chunker) Chunks(sessionID string, turns []transcript.Turn, from int) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		seq := 0
		for p := range pairs(turns) {
			if seq >= from {
				if !yield(c.build(sessionID, seq, p)) {
					return
				}
			}
			seq++
		}
	}
}

// Count returns the number of complete turn pairs in turns.
func (c *Chunker) Count(turns []transcript.Turn) int {
	n := 0
	for range pairs(turns) {
		n++
	}
	return n
}

// Closed returns the number of turn pairs followed by a later user turn.
// Those can no longer change. The last emitted pair stays open, since more
// assistant turns may still be appended to it.
func (c *Chunker) Closed(turns []transcript.Turn) int {
	n, open := 0, false
	for _, t := range turns {
		if t.Role != transcript.RoleUser {
			continue
		}
		if open {
			n++
		}
		open = true
	}
	return n
}

func (c *Chunker) build(sessionID string, seq int, p pair) domain.Chunk {
	text := "User: " + p.user.Text + "\n\nAssistant: " + strings.Join(p.assistant, "\n\n")
	if c.cfg.MaxTokens > 0 {
		text, _ = c.tokenizer.Truncate(text, c.cfg.MaxTokens)
	}
	return domain.Chunk{
		SessionID: sessionID,
		Seq:       seq,
		Text:      text,
		Chars:     utf8.RuneCountInString(text),
		Tokens:    c.tokenizer.Count(text),
		Timestamp: p.user.Timestamp,
	}
}

func pairs(turns []transcript.Turn) iter.Seq[pair] {
	return func(yield func(pair) bool) {
		var cur *pair
		for _, t := range turns {
			switch t.Role {
			case transcript.RoleUser:
				if cur != nil && !yield(*cur) {
					return
				}
				cur = &pair{user: t}
			case transcript.RoleAssistant:
				if cur != nil {
					cur.assistant = append(cur.assistant, t.Text)
				}
			}
		}
		if cur != nil && len(cur.assistant) > 0 {
			yield(*cur)
		}
	}
}
