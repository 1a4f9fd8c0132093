package ingest

import (
	"fmt"
	"strings"

	"github.com/mffacts/mffacts/engine/domain"
)

var urlSanitizer = strings.NewReplacer(
	"https://", "",
	"http://", "",
	"/", "_",
	"?", "_",
	"=", "_",
)

// SanitizeURL turns a source URL into the prefix used for passage ids.
func SanitizeURL(u string) string {
	return urlSanitizer.Replace(u)
}

// PassageID returns the stable id of the idx-th passage of url.
func PassageID(url string, idx int) string {
	return fmt.Sprintf("%s_chunk%d", SanitizeURL(url), idx)
}

// AssignIDs wraps segmented texts of doc into passages with ids and metadata.
func AssignIDs(doc domain.Document, texts []string) []domain.Passage {
	out := make([]domain.Passage, len(texts))
	for i, t := range texts {
		out[i] = domain.Passage{
			ID:   PassageID(doc.URL, i),
			Text: t,
			Meta: domain.PassageMeta{
				URL:         doc.URL,
				ChunkIndex:  i,
				TotalChunks: len(texts),
			},
		}
	}
	return out
}
