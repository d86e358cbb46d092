package analytics

import (
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// viewerHashLen is the number of digest bytes kept in an anonymous key.
const viewerHashLen = 16

// ViewerKey identifies a viewer for unique-viewer counting. Signed-in users
// are keyed by id; anonymous viewers by a hash of their address and device,
// so raw addresses never reach the aggregate tables.
func ViewerKey(userID *int64, ip, device string) string {
	if userID != nil {
		return "u:" + strconv.FormatInt(*userID, 10)
	}
	sum := blake2b.Sum256([]byte(strings.TrimSpace(ip) + "|" + strings.ToLower(strings.TrimSpace(device))))
	return "a:" + hex.EncodeToString(sum[:viewerHashLen])
}
