package record_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/testutil/fakechem"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// wireRoundTrip encodes doc as JSON and decodes it the way a search response
// body is decoded.
func wireRoundTrip(t *testing.T, doc map[string]interface{}, useNumber bool) map[string]interface{} {
	t.Helper()
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	dec := json.NewDecoder(bytes.NewReader(b))
	if useNumber {
		dec.UseNumber()
	}
	var out map[string]interface{}
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestToDocument(t *testing.T) {
	eng := fakechem.New()
	eng.SetFingerprints("CCO", []int{4, 2}, []int{260})
	s, _ := eng.Parse("CCO", chem.KindMolecule)
	r, err := record.Build(eng, s, chem.KindMolecule,
		record.WithName("ethanol"),
		record.WithMetadata(map[string]interface{}{"cas": "64-17-5"}))
	require.NoError(t, err)

	doc := r.ToDocument()
	assert.Equal(t, "ethanol", doc["name"])
	assert.Equal(t, []int{2, 4}, doc["sim_fingerprint"])
	assert.Equal(t, 2, doc["sim_fingerprint_len"])
	assert.Equal(t, []int{260}, doc["sub_fingerprint"])
	assert.Equal(t, 1, doc["sub_fingerprint_len"])
	assert.Equal(t, "bW9sZWN1bGU6Q0NP", doc["serialized"])
	assert.Equal(t, "64-17-5", doc["cas"])
	assert.NotContains(t, doc, "id")
}

func TestToDocument_EmptyFingerprintsAreArrays(t *testing.T) {
	eng := fakechem.New()
	eng.SetUnavailable("X")
	s, _ := eng.Parse("X", chem.KindMolecule)
	r, err := record.Build(eng, s, chem.KindMolecule, record.WithErrorPolicy(record.Skip()))
	require.NoError(t, err)

	b, err := json.Marshal(r.ToDocument())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"sim_fingerprint":[]`)
	assert.Contains(t, string(b), `"sim_fingerprint_len":0`)
}

func TestFromHit_RoundTrip(t *testing.T) {
	eng := fakechem.New()
	s, _ := eng.Parse("CC(=O)O.[Na+]", chem.KindMolecule)
	orig, err := record.Build(eng, s, chem.KindMolecule,
		record.WithName("sodium acetate"),
		record.WithMetadata(map[string]interface{}{"batch": 7, "purity": 0.98, "vendor": "acme"}))
	require.NoError(t, err)

	for _, useNumber := range []bool{false, true} {
		src := wireRoundTrip(t, orig.ToDocument(), useNumber)
		got, err := record.FromHit(chem.KindMolecule, "storage-1", src)
		require.NoError(t, err)

		assert.Equal(t, "storage-1", got.StorageID())
		assert.NotEqual(t, orig.ID(), got.ID())
		assert.Equal(t, orig.Name(), got.Name())
		assert.True(t, orig.SimFingerprint().Equal(got.SimFingerprint()))
		assert.True(t, orig.SubFingerprint().Equal(got.SubFingerprint()))
		assert.Equal(t, orig.Serialized(), got.Serialized())
		assert.Equal(t, orig.ContentHash(), got.ContentHash())
		assert.True(t, orig.SameContent(got))
		assert.Equal(t, "acme", got.Metadata()["vendor"])
	}
}

func TestFromHit_ExcludedFingerprints(t *testing.T) {
	got, err := record.FromHit(chem.KindReaction, "r-1", map[string]interface{}{
		"name":       "esterification",
		"serialized": "cmVhY3Rpb246Q0M+PkND",
	})
	require.NoError(t, err)
	assert.Equal(t, chem.KindReaction, got.Kind())
	assert.True(t, got.SimFingerprint().IsEmpty())
	assert.Empty(t, got.Metadata())
}

func TestFromHit_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		source map[string]interface{}
	}{
		{"length mismatch", map[string]interface{}{"sim_fingerprint": []interface{}{1.0, 2.0}, "sim_fingerprint_len": 3.0}},
		{"non-integer bit", map[string]interface{}{"sub_fingerprint": []interface{}{1.5}}},
		{"negative bit", map[string]interface{}{"sub_fingerprint": []interface{}{-1.0}}},
		{"bad base64", map[string]interface{}{"serialized": "!!!"}},
		{"bad hash", map[string]interface{}{"content_hash": []interface{}{"not-hex"}}},
		{"name type", map[string]interface{}{"name": 12.0}},
		{"fingerprint type", map[string]interface{}{"sim_fingerprint": "1,2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := record.FromHit(chem.KindMolecule, "doc", tt.source)
			assert.True(t, errors.IsCorruptRecord(err), "got %v", err)
		})
	}
}

func TestIsReservedField(t *testing.T) {
	for _, f := range []string{"name", "sim_fingerprint", "sim_fingerprint_len", "sub_fingerprint", "sub_fingerprint_len", "serialized", "content_hash"} {
		assert.True(t, record.IsReservedField(f), f)
	}
	assert.False(t, record.IsReservedField("cas"))
	assert.Len(t, record.FingerprintFields(), 4)
}
