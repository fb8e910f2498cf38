package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"

	"askdocs/internal/text"
)

// DocumentID is stable per origin, so re-ingesting an origin replaces the same
// document.
func DocumentID(origin string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(origin)).String()
}

// ChunkIDs derives ids from the chunk text within its document. A chunk whose
// text survives an edit keeps its id (and its stored vector). Repeated texts
// are told apart by their occurrence count.
func ChunkIDs(documentID string, segments []text.Segment) []string {
	ns, err := uuid.Parse(documentID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID))
	}
	seen := make(map[string]int, len(segments))
	ids := make([]string, len(segments))
	for i, s := range segments {
		n := seen[s.Text]
		seen[s.Text] = n + 1
		ids[i] = uuid.NewSHA1(ns, []byte(s.Text+"\x00"+strconv.Itoa(n))).String()
	}
	return ids
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
