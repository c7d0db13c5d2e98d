package record

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/turtacn/chemsearch/pkg/errors"
)

// Fingerprint is the sparse form of a fixed-width binary fingerprint: the
// sorted, de-duplicated positions of its set bits.  The zero value is the
// empty fingerprint.
type Fingerprint struct {
	bits []int
}

// NewFingerprint normalises bits into a Fingerprint.  Negative positions are
// rejected; bits is not retained.
func NewFingerprint(bits []int) (Fingerprint, error) {
	if len(bits) == 0 {
		return Fingerprint{}, nil
	}
	out := make([]int, len(bits))
	copy(out, bits)
	sort.Ints(out)
	if out[0] < 0 {
		return Fingerprint{}, errors.Newf(errors.ErrCodeValidation, "fingerprint bit %d is negative", out[0])
	}
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return Fingerprint{bits: out[:n]}, nil
}

// MustFingerprint is NewFingerprint that panics on invalid input.
func MustFingerprint(bits ...int) Fingerprint {
	fp, err := NewFingerprint(bits)
	if err != nil {
		panic(err)
	}
	return fp
}

// Bits returns a copy of the set bit positions in ascending order.
func (f Fingerprint) Bits() []int {
	if len(f.bits) == 0 {
		return nil
	}
	out := make([]int, len(f.bits))
	copy(out, f.bits)
	return out
}

// Len is the population count.
func (f Fingerprint) Len() int { return len(f.bits) }

func (f Fingerprint) IsEmpty() bool { return len(f.bits) == 0 }

// Max returns the highest set bit, or -1 for the empty fingerprint.
func (f Fingerprint) Max() int {
	if len(f.bits) == 0 {
		return -1
	}
	return f.bits[len(f.bits)-1]
}

// Bitmap returns a new roaring bitmap holding the set bits.
func (f Fingerprint) Bitmap() *roaring.Bitmap {
	bm := roaring.New()
	for _, b := range f.bits {
		bm.Add(uint32(b))
	}
	return bm
}

// IntersectionCount returns |f ∩ o|.
func (f Fingerprint) IntersectionCount(o Fingerprint) int {
	if f.IsEmpty() || o.IsEmpty() {
		return 0
	}
	return int(f.Bitmap().AndCardinality(o.Bitmap()))
}

// ContainsAll reports whether every bit of o is set in f.
func (f Fingerprint) ContainsAll(o Fingerprint) bool {
	if o.Len() > f.Len() {
		return false
	}
	return f.IntersectionCount(o) == o.Len()
}

// Equal reports whether f and o have the same set bits.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.Len() != o.Len() {
		return false
	}
	for i := range f.bits {
		if f.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}

// Validate checks that every bit is below width.
func (f Fingerprint) Validate(width int) error {
	if width > 0 && f.Max() >= width {
		return errors.Newf(errors.ErrCodeValidation, "fingerprint bit %d out of range [0, %d)", f.Max(), width)
	}
	return nil
}
