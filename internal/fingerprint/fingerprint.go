// Package fingerprint computes stable content hashes of generated
// candidates. Fingerprints are used to deduplicate verification work for
// attempts that converged on identical output, so normalization strips
// differences that never affect behavior: line ending style, trailing
// whitespace, and trailing blank lines.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/loomlang/loom/internal/unit"
)

// Text returns the hex-encoded SHA-256 of the normalized text.
func Text(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Candidate returns the fingerprint of a candidate's generated files.
// Files are hashed in sorted path order with the path bound into the
// digest, so renaming a file changes the fingerprint even when contents
// are identical. Notes and tests do not contribute: two candidates with
// the same files are duplicates regardless of generator metadata.
func Candidate(c *unit.Candidate) string {
	if c == nil {
		return ""
	}
	paths := make([]string, 0, len(c.Files))
	for p := range c.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write([]byte(Normalize(c.Files[p])))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize canonicalizes content for hashing: CRLF and CR become LF,
// trailing whitespace is stripped per line, and trailing blank lines are
// dropped.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimRight(out, "\n")
}
