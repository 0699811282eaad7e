package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkID(t *testing.T) {
	c := Chunk{SessionID: "abc", Seq: 3}
	assert.Equal(t, "abc#3", c.ID())
	assert.Equal(t, "abc#3", ChunkID("abc", 3))
}

func TestValidateEmbeddedChunk(t *testing.T) {
	valid := func() *EmbeddedChunk {
		return &EmbeddedChunk{
			Chunk:  Chunk{SessionID: "s1", Seq: 0, Text: "User: hi"},
			Model:  "m",
			Vector: []float32{1, 0},
		}
	}

	tests := []struct {
		name    string
		mutate  func(e *EmbeddedChunk)
		wantErr string
	}{
		{"valid", func(e *EmbeddedChunk) {}, ""},
		{"missing session", func(e *EmbeddedChunk) { e.SessionID = "" }, "SessionID is required"},
		{"negative seq", func(e *EmbeddedChunk) { e.Seq = -1 }, "Seq cannot be negative"},
		{"missing model", func(e *EmbeddedChunk) { e.Model = "" }, "Model is required"},
		{"empty vector", func(e *EmbeddedChunk) { e.Vector = nil }, "Vector is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			err := ValidateEmbeddedChunk(e)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	assert.Error(t, ValidateEmbeddedChunk(nil))
	assert.Equal(t, 2, valid().Dimensions())
}

func TestCursorSources(t *testing.T) {
	src := EmbedSource("openai/text-embedding-3-small", "s1")
	assert.Equal(t, "embed/openai/text-embedding-3-small/s1", src)
	assert.True(t, IsEmbedSource(src))
	assert.False(t, IsHarvestSource(src))

	h := HarvestSource("s1")
	assert.Equal(t, "harvest/s1", h)
	assert.True(t, IsHarvestSource(h))
}
