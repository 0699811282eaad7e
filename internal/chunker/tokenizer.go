package chunker

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is the BPE used by the OpenAI embedding models.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts and truncates text in model tokens.
type Tokenizer interface {
	Count(text string) int
	// Truncate returns the longest prefix of text that fits in max tokens.
	Truncate(text string, max int) (string, bool)
}

// EstimateTokenizer approximates one token per four characters.
type EstimateTokenizer struct{}

func (EstimateTokenizer) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

func (EstimateTokenizer) Truncate(text string, max int) (string, bool) {
	if max <= 0 {
		return "", text != ""
	}
	limit := max * 4
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:limit]), true
}

// TiktokenTokenizer counts with a tiktoken encoding. The encoding is
// loaded on first use; if it cannot be loaded (tiktoken fetches BPE
// ranks over the network unless cached) it falls back to the estimate.
type TiktokenTokenizer struct {
	encoding string
	logger   *zap.Logger

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback EstimateTokenizer
}

func NewTiktokenTokenizer(encoding string, logger *zap.Logger) *TiktokenTokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{encoding: encoding, logger: logger}
}

func (t *TiktokenTokenizer) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.logger.Warn("tiktoken encoding unavailable, estimating token counts",
				zap.String("encoding", t.encoding), zap.Error(err))
			return
		}
		t.enc = enc
	})
	return t.enc
}

func (t *TiktokenTokenizer) Count(text string) int {
	enc := t.load()
	if enc == nil {
		return t.fallback.Count(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *TiktokenTokenizer) Truncate(text string, max int) (string, bool) {
	enc := t.load()
	if enc == nil {
		return t.fallback.Truncate(text, max)
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text, false
	}
	if max <= 0 {
		return "", true
	}
	prefix := enc.Decode(tokens[:max])
	// a cut inside a multi-byte rune leaves invalid trailing bytes
	for len(prefix) > 0 {
		r, size := utf8.DecodeLastRuneInString(prefix)
		if r != utf8.RuneError || size > 1 {
			break
		}
		prefix = prefix[:len(prefix)-size]
	}
	return prefix, true
}
