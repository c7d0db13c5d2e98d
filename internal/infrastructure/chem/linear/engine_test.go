package linear

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/pkg/errors"
)

func mustParse(t *testing.T, e *Engine, text string, kind chem.Kind) chem.Structure {
	t.Helper()
	s, err := e.Parse(text, kind)
	require.NoError(t, err, text)
	return s
}

func mol(t *testing.T, e *Engine, text string) chem.Structure {
	return mustParse(t, e, text, chem.KindMolecule)
}

func TestParse_Graph(t *testing.T) {
	e := New()
	cases := []struct {
		smiles       string
		atoms, bonds int
	}{
		{"CCO", 3, 2},
		{"CC(C)O", 4, 3},
		{"C1CC1", 3, 3},
		{"c1ccccc1", 6, 6},
		{"ClCBr", 3, 2},
		{"[NH4+]", 1, 0},
		{"[13CH3]O", 2, 1},
		{"C[H]", 1, 0},
		{"C%10CC%10", 3, 3},
		{"CCO.[Na+]", 4, 2},
		{"[H][H]", 0, 0},
	}
	for _, tc := range cases {
		m := mol(t, e, tc.smiles).(*Molecule)
		assert.Equal(t, tc.atoms, m.HeavyAtoms(), tc.smiles)
		assert.Equal(t, tc.bonds, m.Bonds(), tc.smiles)
	}
}

func TestParse_BondOrders(t *testing.T) {
	g, err := parseGraph("C=CC#N")
	require.NoError(t, err)
	o, ok := g.bond(0, 1)
	require.True(t, ok)
	assert.Equal(t, byte('='), o)
	o, _ = g.bond(1, 2)
	assert.Equal(t, byte('-'), o)
	o, _ = g.bond(2, 3)
	assert.Equal(t, byte('#'), o)

	g, err = parseGraph("c1ccccc1")
	require.NoError(t, err)
	o, ok = g.bond(0, 5)
	require.True(t, ok, "ring closure bond")
	assert.Equal(t, byte(':'), o)
}

func TestParse_BracketLabels(t *testing.T) {
	for in, want := range map[string]string{
		"NH4+":  "N+",
		"O-":    "O-",
		"Fe+++": "Fe3+",
		"Fe+2":  "Fe2+",
		"Cl-2":  "Cl2-",
		"nH":    "n",
		"C@@H":  "C",
		"CH3:1": "C",
		"se":    "se",
	} {
		a, hydrogen, err := parseBracket(in)
		require.NoError(t, err, in)
		assert.False(t, hydrogen)
		assert.Equal(t, want, a.label, in)
	}
	_, hydrogen, err := parseBracket("2H")
	require.NoError(t, err)
	assert.True(t, hydrogen)

	_, _, err = parseBracket("Fe2+")
	assert.True(t, errors.IsCode(err, errors.ErrCodeStructureInvalid), "charge count goes after the sign")
}

func TestParse_Invalid(t *testing.T) {
	e := New()
	for _, bad := range []string{"", "   ", "C(", "C)", "C1CC", "[Na", "CCX", "(C)", "1CC", "C..C", "[]"} {
		_, err := e.Parse(bad, chem.KindMolecule)
		assert.True(t, errors.IsCode(err, errors.ErrCodeStructureInvalid), "%q: %v", bad, err)
	}
	_, err := e.Parse("CC>>CO", chem.KindMolecule)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStructureInvalid))
	_, err = e.Parse("CC>CO", chem.KindReaction)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStructureInvalid))
	_, err = e.Parse(">>", chem.KindReaction)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStructureInvalid))
	_, err = e.Parse("CC", chem.Kind("polymer"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestFingerprint_PathBits(t *testing.T) {
	e := New()
	sim, err := e.Fingerprint(mol(t, e, "CCO"), chem.FingerprintSimilarity)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{326, 1203, 1233, 1358, 1988}, sim)

	sim, err = e.Fingerprint(mol(t, e, "CCCO"), chem.FingerprintSimilarity)
	require.NoError(t, err)
	assert.Len(t, sim, 7)

	sub, err := e.Fingerprint(mol(t, e, "CO"), chem.FingerprintSubstructure)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{420, 1296, 1814}, sub)
}

func TestFingerprint_IndependentOfAtomOrder(t *testing.T) {
	e := New()
	for _, ft := range []chem.FingerprintType{chem.FingerprintSimilarity, chem.FingerprintSubstructure} {
		a, err := e.Fingerprint(mol(t, e, "CCO"), ft)
		require.NoError(t, err)
		b, err := e.Fingerprint(mol(t, e, "OCC"), ft)
		require.NoError(t, err)
		assert.ElementsMatch(t, a, b)
	}
}

func TestFingerprint_WithinWidth(t *testing.T) {
	e := New(WithWidth(64))
	assert.Equal(t, 64, e.FingerprintWidth(chem.FingerprintSimilarity))
	bits, err := e.Fingerprint(mol(t, e, "CC(=O)Oc1ccccc1C(=O)O"), chem.FingerprintSimilarity)
	require.NoError(t, err)
	for _, b := range bits {
		assert.True(t, b >= 0 && b < 64)
	}
}

func TestFingerprint_NoHeavyAtoms(t *testing.T) {
	e := New()
	_, err := e.Fingerprint(mol(t, e, "[H][H]"), chem.FingerprintSimilarity)
	assert.True(t, errors.IsFingerprintUnavailable(err))
}

// A true substructure's screening bits are a subset of its superstructure's.
func TestFingerprint_SubstructureScreenIsNecessary(t *testing.T) {
	e := New()
	pairs := [][2]string{
		{"CO", "CCO"},
		{"c1ccccc1", "Oc1ccccc1"},
		{"C(=O)O", "CC(=O)Oc1ccccc1C(=O)O"},
		{"CCN", "CCN(CC)CC"},
	}
	for _, p := range pairs {
		q, tg := mol(t, e, p[0]), mol(t, e, p[1])
		ok, err := e.SubstructureMatch(q, tg)
		require.NoError(t, err)
		require.True(t, ok, "%s in %s", p[0], p[1])

		qb, err := e.Fingerprint(q, chem.FingerprintSubstructure)
		require.NoError(t, err)
		tb, err := e.Fingerprint(tg, chem.FingerprintSubstructure)
		require.NoError(t, err)
		assert.True(t, record.MustFingerprint(tb...).ContainsAll(record.MustFingerprint(qb...)), "%s in %s", p[0], p[1])
	}
}

func TestSubstructureMatch(t *testing.T) {
	e := New()
	cases := []struct {
		query, target string
		want          bool
	}{
		{"CO", "CCO", true},
		{"CN", "CCO", false},
		{"c1ccccc1", "Cc1ccccc1", true},
		{"C1CCCCC1", "c1ccccc1", false},
		{"C=O", "CC=O", true},
		{"C=O", "CCO", false},
		{"CC(C)C", "CCCC", false},
		{"CCCC", "CC(C)CC", true},
		{"CCO", "CCO", true},
	}
	for _, tc := range cases {
		got, err := e.SubstructureMatch(mol(t, e, tc.query), mol(t, e, tc.target))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s in %s", tc.query, tc.target)
	}
}

func TestExactMatch(t *testing.T) {
	e := New()
	cases := []struct {
		a, b string
		want bool
	}{
		{"CCO", "OCC", true},
		{"CC(C)O", "CC(O)C", true},
		{"CCCO", "CC(C)O", false},
		{"CCO", "CCCO", false},
		{"CCO.[Na+]", "[Na+].OCC", true},
		{"CCO.[Na+]", "CCO", false},
		{"c1ccccc1", "C1=CC=CC=C1", false},
	}
	for _, tc := range cases {
		got, err := e.ExactMatch(mol(t, e, tc.a), mol(t, e, tc.b))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s vs %s", tc.a, tc.b)
	}
}

func TestStructuralHash(t *testing.T) {
	e := New()
	a, err := record.HashComponents(e, mol(t, e, "CCO.[Na+]"))
	require.NoError(t, err)
	b, err := record.HashComponents(e, mol(t, e, "[Na+].OCC"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 2)

	c, err := record.HashComponents(e, mol(t, e, "CCCO"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSerializeRoundTrip(t *testing.T) {
	e := New()
	for _, tc := range []struct {
		text string
		kind chem.Kind
	}{
		{"CC(=O)Oc1ccccc1C(=O)O", chem.KindMolecule},
		{"CCO.[Na+]", chem.KindMolecule},
		{"CCO>[Pt]>CC=O", chem.KindReaction},
	} {
		s := mustParse(t, e, tc.text, tc.kind)
		b, err := e.Serialize(s)
		require.NoError(t, err)

		back, err := e.Deserialize(b, tc.kind)
		require.NoError(t, err)
		assert.Equal(t, tc.text, back.String())
		same, err := e.ExactMatch(s, back)
		require.NoError(t, err)
		assert.True(t, same)
	}
}

func TestDeserialize_Invalid(t *testing.T) {
	e := New()
	b, err := e.Serialize(mol(t, e, "CCO"))
	require.NoError(t, err)

	_, err = e.Deserialize(b, chem.KindReaction)
	assert.Error(t, err)
	_, err = e.Deserialize([]byte{1}, chem.KindMolecule)
	assert.Error(t, err)
	_, err = e.Deserialize(append([]byte{9}, b[1:]...), chem.KindMolecule)
	assert.Error(t, err)
	_, err = e.Deserialize([]byte("garbage"), chem.KindMolecule)
	assert.Error(t, err)
}

func TestReaction(t *testing.T) {
	e := New()
	rxn := mustParse(t, e, "CCO.O>[Pt]>CC=O", chem.KindReaction)
	assert.Equal(t, chem.KindReaction, rxn.Kind())
	assert.Len(t, e.Components(rxn), 4)

	bits, err := e.Fingerprint(rxn, chem.FingerprintSimilarity)
	require.NoError(t, err)
	assert.NotEmpty(t, bits)

	ok, err := e.SubstructureMatch(mustParse(t, e, "CO>>C=O", chem.KindReaction), rxn)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.SubstructureMatch(mustParse(t, e, "C=O>>CO", chem.KindReaction), rxn)
	require.NoError(t, err)
	assert.False(t, ok)

	same, err := e.ExactMatch(rxn, mustParse(t, e, "O.OCC>>CC=O", chem.KindReaction))
	require.NoError(t, err)
	assert.True(t, same, "agents are not compared")

	ok, err = e.SubstructureMatch(mol(t, e, "CO"), rxn)
	require.NoError(t, err)
	assert.False(t, ok, "molecule never matches a reaction")
}

func TestRecordBuild_WithLinearEngine(t *testing.T) {
	e := New()
	r, err := record.Build(e, mol(t, e, "CCO"), chem.KindMolecule, record.WithName("ethanol"))
	require.NoError(t, err)
	assert.Equal(t, 5, r.SimFingerprint().Len())
	assert.Equal(t, 5, r.SubFingerprint().Len())

	back, err := r.Rehydrate(e)
	require.NoError(t, err)
	assert.Equal(t, "CCO", back.String())
}
