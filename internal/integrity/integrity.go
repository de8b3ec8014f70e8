// Package integrity fingerprints a grading run. Each participant summary is
// hashed with a length-prefixed encoding and the hashes are combined into a
// Merkle root, so two runs over the same input can be compared by one
// string. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strconv"
	"time"

	"github.com/ashita-ai/hyoka/internal/model"
)

const hashPrefix = "v1:"

// SummaryHash produces a versioned SHA-256 hex digest of the summary's
// graded content. Synthetic locations are excluded because they are
// re-drawn on every run.
func SummaryHash(s model.ParticipantSummary) string {
	h := sha256.New()
	writeField := func(v string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v))) //nolint:gosec // explanation lengths are far below 4 GiB
		h.Write(lenBuf[:])
		h.Write([]byte(v))
	}
	writeField(s.From)
	writeField(deref(s.To))
	if s.Location != nil && !s.LocationSynthetic {
		writeField(strconv.FormatFloat(s.Location.Lat, 'f', 7, 64))
		writeField(strconv.FormatFloat(s.Location.Lon, 'f', 7, 64))
	} else {
		writeField("")
		writeField("")
	}
	if s.Timestamp != nil {
		writeField(s.Timestamp.UTC().Format(time.RFC3339Nano))
	} else {
		writeField("")
	}
	writeField(strconv.Itoa(s.PerfectMessageCount))
	writeField(strconv.Itoa(s.MessageCount))
	writeField(strconv.Itoa(s.Points))
	writeField(strconv.Itoa(len(s.Explanations)))
	for _, e := range s.Explanations {
		writeField(e)
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes every summary, sorts the leaves and returns the Merkle root.
func Fingerprint(summaries []model.ParticipantSummary) string {
	leaves := make([]string, len(summaries))
	for i, s := range summaries {
		leaves[i] = SummaryHash(s)
	}
	sort.Strings(leaves)
	return BuildMerkleRoot(leaves)
}

// hashPair produces SHA-256(0x01 || a || b) as a hex string.
// The 0x01 prefix separates internal nodes from leaves (RFC 6962).
func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot constructs a Merkle tree from leaf hashes and returns the root.
// Leaves must be sorted by the caller for determinism.
// If leaves is empty, returns an empty string.
// If leaves has one element, the root is that element.
// Odd-length levels hash the last node with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	if len(leaves) == 1 {
		return leaves[0]
	}

	level := make([]string, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		var next []string
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}

	return level[0]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
