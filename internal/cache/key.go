package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DeriveKey produces the cache key for a query scoped to a user, a session,
// and a document-set version. The query is normalized (lowercased, whitespace
// collapsed) so that trivially reworded repeats hit the same entry, and the
// doc-set version invalidates everything when the corpus changes. SHA-256 is
// deliberate: keys cross user/session boundaries, so collisions must be
// cryptographically hard, not merely rare.
func DeriveKey(query, userID, sessionID, docSetVersion string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	composite := normalized + "|" + userID + "|" + sessionID + "|" + docSetVersion
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}
