package record

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// Document field names.
const (
	FieldName              = "name"
	FieldSimFingerprint    = "sim_fingerprint"
	FieldSimFingerprintLen = "sim_fingerprint_len"
	FieldSubFingerprint    = "sub_fingerprint"
	FieldSubFingerprintLen = "sub_fingerprint_len"
	FieldSerialized        = "serialized"
	FieldContentHash       = "content_hash"
)

var reservedFields = map[string]bool{
	FieldName:              true,
	FieldSimFingerprint:    true,
	FieldSimFingerprintLen: true,
	FieldSubFingerprint:    true,
	FieldSubFingerprintLen: true,
	FieldSerialized:        true,
	FieldContentHash:       true,
}

// IsReservedField reports whether key is one of the fixed document fields.
func IsReservedField(key string) bool { return reservedFields[key] }

// FingerprintFields are the fields left out of search responses by default.
func FingerprintFields() []string {
	return []string{FieldSimFingerprint, FieldSimFingerprintLen, FieldSubFingerprint, FieldSubFingerprintLen}
}

// ToDocument returns the on-wire document.  The process-local id is not part
// of it; the backend assigns its own storage id.
func (r *Record) ToDocument() map[string]interface{} {
	doc := make(map[string]interface{}, len(r.metadata)+len(reservedFields))
	for k, v := range r.metadata {
		doc[k] = v
	}
	if r.name != "" {
		doc[FieldName] = r.name
	}
	doc[FieldSimFingerprint] = nonNilBits(r.simFP)
	doc[FieldSimFingerprintLen] = r.simFP.Len()
	doc[FieldSubFingerprint] = nonNilBits(r.subFP)
	doc[FieldSubFingerprintLen] = r.subFP.Len()
	doc[FieldSerialized] = base64.StdEncoding.EncodeToString(r.serialized)
	doc[FieldContentHash] = nonNilStrings(r.contentHash)
	return doc
}

func nonNilBits(f Fingerprint) []int {
	if b := f.Bits(); b != nil {
		return b
	}
	return []int{}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// FromHit rebuilds a Record from a search hit's _source.  Fingerprint fields
// may be absent when the search excluded them; they are then empty.  Fields
// that are present but malformed yield ErrCodeCorruptRecord.
func FromHit(kind chem.Kind, storageID string, source map[string]interface{}) (*Record, error) {
	r := &Record{
		id:        uuid.New(),
		storageID: storageID,
		kind:      kind,
	}
	corrupt := func(field string, err error) error {
		return errors.Wrapf(err, errors.ErrCodeCorruptRecord, "invalid field %q", field).WithDetail("document " + storageID)
	}

	for k, v := range source {
		var err error
		switch k {
		case FieldName:
			s, ok := v.(string)
			if !ok {
				err = fmt.Errorf("expected string, got %T", v)
			}
			r.name = s
		case FieldSimFingerprint:
			r.simFP, err = decodeFingerprint(v)
		case FieldSubFingerprint:
			r.subFP, err = decodeFingerprint(v)
		case FieldSimFingerprintLen, FieldSubFingerprintLen:
			_, err = toInt(v)
		case FieldSerialized:
			r.serialized, err = decodeBlob(v)
		case FieldContentHash:
			r.contentHash, err = decodeHashes(v)
		default:
			if r.metadata == nil {
				r.metadata = make(map[string]interface{})
			}
			r.metadata[k] = normaliseNumber(v)
		}
		if err != nil {
			return nil, corrupt(k, err)
		}
	}

	if err := checkLen(source, FieldSimFingerprint, FieldSimFingerprintLen, r.simFP); err != nil {
		return nil, corrupt(FieldSimFingerprintLen, err)
	}
	if err := checkLen(source, FieldSubFingerprint, FieldSubFingerprintLen, r.subFP); err != nil {
		return nil, corrupt(FieldSubFingerprintLen, err)
	}
	return r, nil
}

// checkLen enforces len(fingerprint) == stored length when both are present.
func checkLen(source map[string]interface{}, fpField, lenField string, fp Fingerprint) error {
	raw, hasLen := source[lenField]
	if _, hasFP := source[fpField]; !hasLen || !hasFP {
		return nil
	}
	n, err := toInt(raw)
	if err != nil {
		return err
	}
	if n != fp.Len() {
		return fmt.Errorf("length %d does not match %d set bits", n, fp.Len())
	}
	return nil
}

func decodeFingerprint(v interface{}) (Fingerprint, error) {
	if v == nil {
		return Fingerprint{}, nil
	}
	var bits []int
	switch t := v.(type) {
	case []int:
		bits = t
	case []interface{}:
		bits = make([]int, 0, len(t))
		for _, e := range t {
			n, err := toInt(e)
			if err != nil {
				return Fingerprint{}, err
			}
			bits = append(bits, n)
		}
	default:
		return Fingerprint{}, fmt.Errorf("expected array of bit positions, got %T", v)
	}
	return NewFingerprint(bits)
}

func decodeBlob(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return base64.StdEncoding.DecodeString(t)
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out, nil
	}
	return nil, fmt.Errorf("expected base64 string, got %T", v)
}

func decodeHashes(v interface{}) ([]string, error) {
	var out []string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		out = []string{t}
	case []string:
		out = append(out, t...)
	case []interface{}:
		out = make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected hex string, got %T", e)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("expected array of hex strings, got %T", v)
	}
	for _, h := range out {
		if _, err := strconv.ParseUint(h, 16, 64); err != nil {
			return nil, fmt.Errorf("content hash %q: %w", h, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

// toInt accepts the numeric forms produced by encoding/json with or without
// UseNumber.
func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("expected integer, got %T", v)
}

// normaliseNumber turns json.Number metadata back into int64 or float64.
func normaliseNumber(v interface{}) interface{} {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
