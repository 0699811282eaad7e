package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Chunk is one user+assistant exchange cut from a session transcript.
// Chunks are immutable once created.
type Chunk struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	Chars     int       `json:"chars"`
	Tokens    int       `json:"tokens"`
	Timestamp time.Time `json:"timestamp"`
}

// ID returns the stable chunk identity used as the vector store key.
func (c Chunk) ID() string {
	return ChunkID(c.SessionID, c.Seq)
}

// Digest fingerprints the chunk text.
func (c Chunk) Digest() string {
	sum := sha256.Sum256([]byte(c.Text))
	return hex.EncodeToString(sum[:16])
}

// ChunkID formats a chunk identity.
func ChunkID(sessionID string, seq int) string {
	return fmt.Sprintf("%s#%d", sessionID, seq)
}

// EmbeddedChunk is a Chunk plus its vector and the model that produced it.
type EmbeddedChunk struct {
	Chunk
	Model     string
	Vector    []float32
	CreatedAt time.Time
}

// Dimensions returns the vector length.
func (e EmbeddedChunk) Dimensions() int {
	return len(e.Vector)
}

// ModelStats summarizes stored vectors for one embedding model.
type ModelStats struct {
	Model      string
	Chunks     int
	Sessions   int
	Dimensions int
}

// ValidateEmbeddedChunk validates an EmbeddedChunk before it is stored
func ValidateEmbeddedChunk(e *EmbeddedChunk) error {
	if e == nil {
		return fmt.Errorf("embedded chunk cannot be nil")
	}
	if e.SessionID == "" {
		return fmt.Errorf("embedded chunk SessionID is required")
	}
	if e.Seq < 0 {
		return fmt.Errorf("embedded chunk Seq cannot be negative")
	}
	if e.Model == "" {
		return fmt.Errorf("embedded chunk Model is required")
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("embedded chunk Vector is empty")
	}
	return nil
}
