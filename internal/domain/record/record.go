// Package record models one chemical structure as a search-index document:
// two sparse fingerprints, a serialized structure blob, a content hash and
// caller metadata.  Records are immutable snapshots built either from an
// engine structure (Build) or from a backend hit (FromHit).
package record

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// Record is the indexable unit.  All accessors return copies.
type Record struct {
	id        uuid.UUID
	storageID string
	kind      chem.Kind
	name      string

	simFP Fingerprint
	subFP Fingerprint

	serialized  []byte
	contentHash []string
	metadata    map[string]interface{}
}

// ID is the process-local identifier assigned at construction.  It never
// round-trips to the backend.
func (r *Record) ID() uuid.UUID { return r.id }

// StorageID is the backend document id.  It is empty for records that have
// not been hydrated from a search hit.
func (r *Record) StorageID() string { return r.storageID }

func (r *Record) Kind() chem.Kind { return r.kind }

func (r *Record) Name() string { return r.name }

func (r *Record) SimFingerprint() Fingerprint { return r.simFP }

func (r *Record) SubFingerprint() Fingerprint { return r.subFP }

// Serialized returns a copy of the engine serialization of the structure.
func (r *Record) Serialized() []byte {
	if r.serialized == nil {
		return nil
	}
	out := make([]byte, len(r.serialized))
	copy(out, r.serialized)
	return out
}

// ContentHash returns the per-component structural hashes as lowercase hex,
// sorted so that two records with the same components compare equal
// regardless of component order.
func (r *Record) ContentHash() []string {
	if r.contentHash == nil {
		return nil
	}
	out := make([]string, len(r.contentHash))
	copy(out, r.contentHash)
	return out
}

// SameContent reports whether r and o carry identical content hashes.
func (r *Record) SameContent(o *Record) bool {
	if o == nil || len(r.contentHash) == 0 || len(r.contentHash) != len(o.contentHash) {
		return false
	}
	for i := range r.contentHash {
		if r.contentHash[i] != o.contentHash[i] {
			return false
		}
	}
	return true
}

// Metadata returns a shallow copy of the caller-supplied fields.
func (r *Record) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(r.metadata))
	for k, v := range r.metadata {
		out[k] = v
	}
	return out
}

// MetadataValue returns a single metadata field.
func (r *Record) MetadataValue(key string) (interface{}, bool) {
	v, ok := r.metadata[key]
	return v, ok
}

func (r *Record) String() string {
	if r.name != "" {
		return fmt.Sprintf("%s(%s)", r.kind, r.name)
	}
	return fmt.Sprintf("%s(%s)", r.kind, r.id)
}

// Rehydrate reconstructs the structure from the serialized blob.  A blob the
// engine cannot read yields ErrCodeCorruptRecord.
func (r *Record) Rehydrate(eng chem.Engine) (chem.Structure, error) {
	if len(r.serialized) == 0 {
		return nil, errors.New(errors.ErrCodeCorruptRecord, "record has no serialized structure").WithDetail(r.String())
	}
	s, err := eng.Deserialize(r.serialized, r.kind)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCorruptRecord, "failed to deserialize structure").WithDetail(r.String())
	}
	return s, nil
}

// HashComponents computes the normalised content hash of s.
func HashComponents(eng chem.Engine, s chem.Structure) ([]string, error) {
	comps := eng.Components(s)
	hashes := make([]string, 0, len(comps))
	for _, c := range comps {
		h, err := eng.StructuralHash(c)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStructureInvalid, "structural hash failed")
		}
		hashes = append(hashes, formatHash(h))
	}
	sort.Strings(hashes)
	return hashes, nil
}

func formatHash(h uint64) string { return fmt.Sprintf("%016x", h) }
