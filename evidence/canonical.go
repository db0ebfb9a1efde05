package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON serializes a manifest deterministically: every JSON object has
// its keys sorted, so the same manifest content always yields the same bytes
// and the same hash.
func CanonicalJSON(m *Manifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest, details: %v", err)
	}
	// Round-trip through generic values: encoding/json emits map keys sorted.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonicalize manifest, details: %v", err)
	}
	return json.Marshal(generic)
}

// Hash returns the manifest's content hash as a bare hex digest of its
// canonical JSON form.
func Hash(m *Manifest) (string, error) {
	data, err := CanonicalJSON(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeBundleHash computes the content address of a full bundle: the
// manifest bytes followed by each blob, sorted by name, as name then data.
// Identical content always lands at the same address regardless of map order.
func ComputeBundleHash(manifest []byte, blobs map[string][]byte) string {
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write(manifest)
	for _, name := range names {
		h.Write([]byte(name))
		h.Write(blobs[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashBlob returns the content hash of one artifact blob.
func HashBlob(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
