package cli

import (
	"context"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/testutil/fakechem"
	"github.com/turtacn/chemsearch/pkg/errors"
)

func TestDetectFormat(t *testing.T) {
	tests := map[string]string{
		"in.jsonl":   formatJSONL,
		"IN.NDJSON":  formatJSONL,
		"in.smi":     formatSMI,
		"in.txt":     formatSMI,
		"-":          formatSMI,
		"noext":      formatSMI,
		"a.jsonl.gz": formatSMI,
	}
	for path, want := range tests {
		assert.Equal(t, want, detectFormat(path), path)
	}
}

func TestLineReader_SMI(t *testing.T) {
	lr, err := newLineReader(strings.NewReader("# comment\n\n  CCO   ethyl alcohol \nc1ccccc1\n"), formatSMI)
	require.NoError(t, err)

	msg, err := lr.next()
	require.NoError(t, err)
	assert.Equal(t, "CCO", msg.Structure)
	assert.Equal(t, "ethyl alcohol", msg.Name)
	assert.Equal(t, 3, lr.line)

	msg, err = lr.next()
	require.NoError(t, err)
	assert.Equal(t, "c1ccccc1", msg.Structure)
	assert.Empty(t, msg.Name)

	_, err = lr.next()
	assert.Equal(t, io.EOF, err)
}

func TestLineReader_JSONL(t *testing.T) {
	lr, err := newLineReader(strings.NewReader(`{"structure":"CCO","kind":"molecule","metadata":{"mw":46}}`+"\n"+`{"name":"x"}`+"\n"), formatJSONL)
	require.NoError(t, err)

	msg, err := lr.next()
	require.NoError(t, err)
	assert.Equal(t, "CCO", msg.Structure)
	assert.Equal(t, "molecule", msg.Kind)
	assert.Contains(t, msg.Metadata, "mw")

	_, err = lr.next()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestLineReader_ReadError(t *testing.T) {
	lr, err := newLineReader(iotest.ErrReader(io.ErrUnexpectedEOF), formatSMI)
	require.NoError(t, err)
	_, err = lr.next()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
}

func TestLineReader_UnknownFormat(t *testing.T) {
	_, err := newLineReader(strings.NewReader(""), "mol2")
	assert.Error(t, err)
}

func TestFileSource_Records(t *testing.T) {
	eng := fakechem.New()
	src, err := newFileSource(strings.NewReader("CCO ethanol\n"), formatSMI, eng, chem.KindMolecule, false, nil)
	require.NoError(t, err)

	rec, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ethanol", rec.Name())
	assert.Equal(t, chem.KindMolecule, rec.Kind())
	assert.False(t, rec.SimFingerprint().IsEmpty())

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestFileSource_KindMismatch(t *testing.T) {
	in := `{"structure":"CC>>CO","kind":"reaction"}` + "\n"
	src, err := newFileSource(strings.NewReader(in), formatJSONL, fakechem.New(), chem.KindMolecule, false, nil)
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestFileSource_SkipErrors(t *testing.T) {
	eng := fakechem.New()
	eng.SetUnavailable("CCC")
	in := "{bad\n" + `{"structure":"CCO"}` + "\n" + `{"structure":"CCC"}` + "\n"
	src, err := newFileSource(strings.NewReader(in), formatJSONL, eng, chem.KindMolecule, true, nil)
	require.NoError(t, err)

	rec, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.Skipped())
	assert.False(t, rec.SimFingerprint().IsEmpty())

	rec, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, rec.SimFingerprint().IsEmpty())
	assert.True(t, rec.SubFingerprint().IsEmpty())

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestFileSource_ReadErrorNotSkipped(t *testing.T) {
	src, err := newFileSource(iotest.ErrReader(io.ErrUnexpectedEOF), formatSMI, fakechem.New(), chem.KindMolecule, true, nil)
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, src.Skipped())
}

func TestFileSource_ContextCancelled(t *testing.T) {
	src, err := newFileSource(strings.NewReader("CCO\n"), formatSMI, fakechem.New(), chem.KindMolecule, false, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
