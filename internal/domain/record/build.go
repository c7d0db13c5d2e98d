package record

import (
	"github.com/google/uuid"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// ErrorHandler decides what happens when the engine cannot fingerprint a
// structure.  Returning nil keeps the record with an empty fingerprint of type
// t; returning an error aborts Build with that error.
type ErrorHandler func(t chem.FingerprintType, s chem.Structure, err error) error

type policyMode int

const (
	policyRaise policyMode = iota
	policySkip
	policyInvoke
)

// ErrorPolicy selects how Build treats fingerprint failures.  Construct it
// with Raise, Skip or Invoke.
type ErrorPolicy struct {
	mode    policyMode
	handler ErrorHandler
}

// Raise returns fingerprint failures to the caller.  It is the default.
func Raise() ErrorPolicy { return ErrorPolicy{mode: policyRaise} }

// Skip records an empty fingerprint in place of one the engine cannot produce.
func Skip() ErrorPolicy { return ErrorPolicy{mode: policySkip} }

// Invoke delegates the decision to h.  A nil handler behaves like Raise.
func Invoke(h ErrorHandler) ErrorPolicy {
	if h == nil {
		return Raise()
	}
	return ErrorPolicy{mode: policyInvoke, handler: h}
}

func (p ErrorPolicy) resolve(t chem.FingerprintType, s chem.Structure, err error) error {
	switch p.mode {
	case policySkip:
		return nil
	case policyInvoke:
		return p.handler(t, s, err)
	default:
		return err
	}
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	name     string
	metadata map[string]interface{}
	policy   ErrorPolicy
}

// WithName sets the record name.
func WithName(name string) BuildOption {
	return func(o *buildOptions) { o.name = name }
}

// WithMetadata adds pass-through fields.  Keys must not collide with the
// reserved document fields.
func WithMetadata(md map[string]interface{}) BuildOption {
	return func(o *buildOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]interface{}, len(md))
		}
		for k, v := range md {
			o.metadata[k] = v
		}
	}
}

// WithErrorPolicy sets the fingerprint failure policy.
func WithErrorPolicy(p ErrorPolicy) BuildOption {
	return func(o *buildOptions) { o.policy = p }
}

// Build computes both fingerprints, the serialized blob and the content hash
// of s through eng and returns a new Record.
func Build(eng chem.Engine, s chem.Structure, kind chem.Kind, opts ...BuildOption) (*Record, error) {
	if eng == nil || s == nil {
		return nil, errors.New(errors.ErrCodeValidation, "engine and structure are required")
	}
	if !kind.Valid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown record kind %q", kind)
	}
	if s.Kind() != kind {
		return nil, errors.Newf(errors.ErrCodeStructureInvalid, "structure is a %s, not a %s", s.Kind(), kind)
	}

	o := buildOptions{policy: Raise()}
	for _, opt := range opts {
		opt(&o)
	}
	for k := range o.metadata {
		if IsReservedField(k) {
			return nil, errors.Newf(errors.ErrCodeValidation, "metadata key %q is reserved", k)
		}
	}

	simFP, err := fingerprint(eng, s, chem.FingerprintSimilarity, o.policy)
	if err != nil {
		return nil, err
	}
	subFP, err := fingerprint(eng, s, chem.FingerprintSubstructure, o.policy)
	if err != nil {
		return nil, err
	}

	blob, err := eng.Serialize(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to serialize structure")
	}
	hashes, err := HashComponents(eng, s)
	if err != nil {
		return nil, err
	}

	return &Record{
		id:          uuid.New(),
		kind:        kind,
		name:        o.name,
		simFP:       simFP,
		subFP:       subFP,
		serialized:  blob,
		contentHash: hashes,
		metadata:    o.metadata,
	}, nil
}

// fingerprint is the single point where the error policy applies.
func fingerprint(eng chem.Engine, s chem.Structure, t chem.FingerprintType, policy ErrorPolicy) (Fingerprint, error) {
	bits, err := eng.Fingerprint(s, t)
	if err != nil {
		if !errors.IsFingerprintUnavailable(err) {
			err = errors.Wrapf(err, errors.ErrCodeFingerprintUnavailable, "%s fingerprint unavailable", t)
		}
		if perr := policy.resolve(t, s, err); perr != nil {
			return Fingerprint{}, perr
		}
		return Fingerprint{}, nil
	}

	fp, err := NewFingerprint(bits)
	if err != nil {
		return Fingerprint{}, err
	}
	if err := fp.Validate(eng.FingerprintWidth(t)); err != nil {
		return Fingerprint{}, err
	}
	return fp, nil
}
