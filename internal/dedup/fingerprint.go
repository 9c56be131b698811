// Package dedup computes posting fingerprints and filters already-known
// postings. It performs no I/O; callers supply the known fingerprint set.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"jobdigest/internal/models"
)

// normalize lowercases and collapses all whitespace runs to single spaces so
// near-identical postings from repeated fetches collide intentionally.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint returns the stable identity of a posting: a sha256 over the
// normalized title, normalized location and the employment type. The
// employment type is hashed verbatim — two postings differing only in its
// casing are distinct on purpose.
func Fingerprint(p models.RawPosting) string {
	h := sha256.New()
	h.Write([]byte(normalize(p.Title)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(p.Location)))
	h.Write([]byte{0})
	h.Write([]byte(p.EmploymentType))
	return hex.EncodeToString(h.Sum(nil))
}

// FilterNew returns the postings whose fingerprints are absent from existing,
// preserving input order. Duplicates within the batch itself are collapsed to
// their first occurrence.
func FilterNew(postings []models.RawPosting, existing map[string]struct{}) []models.RawPosting {
	seen := make(map[string]struct{}, len(postings))
	out := make([]models.RawPosting, 0, len(postings))

	for _, p := range postings {
		fp := Fingerprint(p)
		if _, ok := existing[fp]; ok {
			continue
		}
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, p)
	}

	return out
}
