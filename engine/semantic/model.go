package semantic

import (
	"github.com/google/uuid"

	"github.com/mffacts/mffacts/engine/domain"
)

// Record is one embedded passage to store.
type Record struct {
	Passage   domain.Passage
	Embedding []float32
}

// MaxPayloadText caps the passage text stored alongside a vector.
const MaxPayloadText = 5000

// Payload keys shared by every store implementation.
const (
	KeyPassageID   = "passage_id"
	KeyText        = "text"
	KeyURL         = "url"
	KeyChunkIndex  = "chunk_index"
	KeyTotalChunks = "total_chunks"
)

// PointID derives the store UUID for a passage id. Rebuilding the index from
// the same sources yields the same point ids.
func PointID(passageID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(passageID)).String()
}

// capText truncates s to MaxPayloadText runes.
func capText(s string) string {
	n := 0
	for i := range s {
		if n == MaxPayloadText {
			return s[:i]
		}
		n++
	}
	return s
}
