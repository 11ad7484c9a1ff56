package delta

import (
	"errors"
	"fmt"

	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// ErrChainBroken means a delta cannot be linked to its predecessor: it is
// not a genesis delta and no prior delta of the bundle has been applied.
var ErrChainBroken = errors.New("delta: hash chain broken")

// Transformer rewrites the deltas of one bundle, in order, for a destination
// wavelet. It carries the participant rewrite state and the hashed version
// returned by the destination for the previous delta. Not safe for
// concurrent use; create one per bundle.
type Transformer struct {
	target  waveid.WaveletName
	rewrite RewriteState
	prev    *HashedVersion
}

// NewTransformer creates a Transformer for target, whose domain is the
// destination domain.
func NewTransformer(target waveid.WaveletName) *Transformer {
	return &Transformer{target: target}
}

// Transform decodes one serialized applied delta and returns the wavelet
// delta to submit: participants moved to the destination domain and the
// hashed version either the genesis (source version 0) or the version the
// destination returned for the previous delta.
func (t *Transformer) Transform(applied []byte) (*WaveletDelta, error) {
	ad, err := ParseAppliedDelta(applied)
	if err != nil {
		return nil, fmt.Errorf("delta: applied delta: %w", err)
	}

	d, err := ParseWaveletDelta(ad.Delta)
	if err != nil {
		return nil, fmt.Errorf("delta: wavelet delta: %w", err)
	}

	domain := t.target.Wave.Domain()

	d.Author, t.rewrite = RewriteDomain(d.Author, domain, t.rewrite)

	for i := range d.Operations {
		op := &d.Operations[i]
		if op.Kind == OpAddParticipant || op.Kind == OpRemoveParticipant {
			op.Participant, t.rewrite = RewriteDomain(op.Participant, domain, t.rewrite)
		}
	}

	switch {
	case d.HashedVersion.Version == 0:
		d.HashedVersion = Genesis(t.target)
	case t.prev != nil:
		d.HashedVersion = *t.prev
	default:
		return nil, fmt.Errorf("%w: delta at version %d has no applied predecessor",
			ErrChainBroken, d.HashedVersion.Version)
	}

	return d, nil
}

// Advance records the hashed version the destination returned after
// applying the last transformed delta. The next non-genesis delta is
// submitted at this version.
func (t *Transformer) Advance(applied HashedVersion) {
	t.prev = &applied
}
