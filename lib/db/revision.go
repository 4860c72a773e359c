package db

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Revisions
// --------------------------------------------------------------------------

// NextRev derives the revision following prev for a document with the given value.
// Revisions have the form "<generation>-<digest>". The generation starts at 1 and
// is incremented on every write, the digest is a xxhash over the previous
// revision and the new value, so two writes of different values on the same
// generation never produce the same revision.
func NextRev(prev string, value []byte) string {
	gen := RevGeneration(prev) + 1

	h := xxhash.New()
	_, _ = h.WriteString(prev)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(value)

	return strconv.FormatUint(gen, 10) + "-" + strconv.FormatUint(h.Sum64(), 16)
}

// RevGeneration returns the generation of rev, 0 for an empty or malformed revision.
func RevGeneration(rev string) uint64 {
	genStr, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	gen, err := strconv.ParseUint(genStr, 10, 64)
	if err != nil {
		return 0
	}
	return gen
}

// ValidRev reports whether rev has the form produced by NextRev
func ValidRev(rev string) bool {
	genStr, digest, ok := strings.Cut(rev, "-")
	if !ok || digest == "" {
		return false
	}
	if _, err := strconv.ParseUint(genStr, 10, 64); err != nil {
		return false
	}
	_, err := strconv.ParseUint(digest, 16, 64)
	return err == nil
}
