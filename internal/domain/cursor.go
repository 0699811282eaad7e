package domain

import (
	"strings"
	"time"
)

// Cursor records how far a transcript source has been processed.
// Position is the next chunk sequence number to process; Generation is
// bumped every time the cursor is reset for a full reprocess. Tail is the
// digest of the still-open chunk at Position when it has already been
// stored; that chunk may still grow and is not counted as processed.
type Cursor struct {
	Source     string    `json:"source"`
	Position   int       `json:"position"`
	Tail       string    `json:"tail,omitempty"`
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Generation int64     `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	embedSourcePrefix   = "embed/"
	harvestSourcePrefix = "harvest/"
)

// EmbedSource is the cursor key for indexing a session with a given model.
func EmbedSource(model, sessionID string) string {
	return embedSourcePrefix + model + "/" + sessionID
}

// HarvestSource is the cursor key for harvesting a session.
func HarvestSource(sessionID string) string {
	return harvestSourcePrefix + sessionID
}

// IsEmbedSource reports whether source is an indexing cursor key.
func IsEmbedSource(source string) bool {
	return strings.HasPrefix(source, embedSourcePrefix)
}

// IsHarvestSource reports whether source is a harvest cursor key.
func IsHarvestSource(source string) bool {
	return strings.HasPrefix(source, harvestSourcePrefix)
}
