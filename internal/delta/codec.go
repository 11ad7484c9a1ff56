// Package delta decodes, rewrites and re-encodes wave deltas in their
// protobuf wire form. Only the fields the import needs are interpreted
// (hashed versions, author, participant operations); everything else,
// document mutations and attachments included, is carried through as raw
// bytes so a round trip never loses data.
package delta

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is returned for bytes that are not a well-formed message of
// the expected shape.
var ErrMalformed = errors.New("delta: malformed message")

// Field numbers of the wave federation protocol messages.
const (
	// ProtocolHashedVersion
	hvVersion     protowire.Number = 1
	hvHistoryHash protowire.Number = 2

	// ProtocolWaveletDelta
	wdHashedVersion protowire.Number = 1
	wdAuthor        protowire.Number = 2
	wdOperation     protowire.Number = 3

	// ProtocolWaveletOperation
	opAddParticipant    protowire.Number = 1
	opRemoveParticipant protowire.Number = 2

	// ProtocolSignedDelta
	sdDelta     protowire.Number = 1
	sdSignature protowire.Number = 2

	// ProtocolAppliedWaveletDelta
	adSignedOriginalDelta    protowire.Number = 1
	adHashedVersionAppliedAt protowire.Number = 2
	adOperationsApplied      protowire.Number = 3
	adApplicationTimestamp   protowire.Number = 4
)

// field is one decoded wire field. raw is the tag and value exactly as read.
type field struct {
	num protowire.Number
	typ protowire.Type
	raw []byte
	val []byte // payload, for BytesType
	u   uint64 // value, for VarintType
}

func parseFields(b []byte) ([]field, error) {
	var out []field

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}

		m := protowire.ConsumeFieldValue(num, typ, b[n:])
		if m < 0 {
			return nil, fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(m))
		}

		f := field{num: num, typ: typ, raw: b[:n+m]}

		switch typ {
		case protowire.BytesType:
			f.val, _ = protowire.ConsumeBytes(b[n:])
		case protowire.VarintType:
			f.u, _ = protowire.ConsumeVarint(b[n:])
		}

		out = append(out, f)
		b = b[n+m:]
	}

	return out, nil
}

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, f.num, f.typ, typ)
	}

	return nil
}

// HashedVersion is a position in a wavelet's history: the version number
// and the history hash at that version.
type HashedVersion struct {
	Version     int64
	HistoryHash []byte
}

// Equal reports whether both components match.
func (h HashedVersion) Equal(o HashedVersion) bool {
	return h.Version == o.Version && string(h.HistoryHash) == string(o.HistoryHash)
}

func (h HashedVersion) String() string {
	return fmt.Sprintf("%d:%x", h.Version, h.HistoryHash)
}

// ParseHashedVersion decodes a ProtocolHashedVersion.
func ParseHashedVersion(b []byte) (HashedVersion, error) {
	fields, err := parseFields(b)
	if err != nil {
		return HashedVersion{}, err
	}

	var (
		hv          HashedVersion
		haveVersion bool
	)

	for _, f := range fields {
		switch f.num {
		case hvVersion:
			if err := f.want(protowire.VarintType); err != nil {
				return HashedVersion{}, err
			}

			hv.Version = int64(f.u)
			haveVersion = true
		case hvHistoryHash:
			if err := f.want(protowire.BytesType); err != nil {
				return HashedVersion{}, err
			}

			hv.HistoryHash = append([]byte(nil), f.val...)
		}
	}

	if !haveVersion {
		return HashedVersion{}, fmt.Errorf("%w: hashed version without version", ErrMalformed)
	}

	return hv, nil
}

// Marshal encodes h as a ProtocolHashedVersion.
func (h HashedVersion) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, hvVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Version))
	b = protowire.AppendTag(b, hvHistoryHash, protowire.BytesType)
	b = protowire.AppendBytes(b, h.HistoryHash)

	return b
}

// OpKind distinguishes the participant operations from everything else.
type OpKind int

const (
	OpOther OpKind = iota
	OpAddParticipant
	OpRemoveParticipant
)

// Operation is one wavelet operation. Participant is set for add/remove;
// other operations (document mutations, no-ops) are kept in raw form.
type Operation struct {
	Kind        OpKind
	Participant string

	rest []byte
}

// AddParticipant builds an add-participant operation.
func AddParticipant(p string) Operation { return Operation{Kind: OpAddParticipant, Participant: p} }

// RemoveParticipant builds a remove-participant operation.
func RemoveParticipant(p string) Operation {
	return Operation{Kind: OpRemoveParticipant, Participant: p}
}

// RawOperation wraps an already encoded ProtocolWaveletOperation body that
// is not a participant change.
func RawOperation(body []byte) Operation { return Operation{Kind: OpOther, rest: body} }

func parseOperation(b []byte) (Operation, error) {
	fields, err := parseFields(b)
	if err != nil {
		return Operation{}, err
	}

	var op Operation

	for _, f := range fields {
		switch {
		case f.num == opAddParticipant && op.Kind == OpOther:
			if err := f.want(protowire.BytesType); err != nil {
				return Operation{}, err
			}

			op.Kind, op.Participant = OpAddParticipant, string(f.val)
		case f.num == opRemoveParticipant && op.Kind == OpOther:
			if err := f.want(protowire.BytesType); err != nil {
				return Operation{}, err
			}

			op.Kind, op.Participant = OpRemoveParticipant, string(f.val)
		default:
			op.rest = append(op.rest, f.raw...)
		}
	}

	return op, nil
}

func (op Operation) marshal() []byte {
	var b []byte

	switch op.Kind {
	case OpAddParticipant:
		b = protowire.AppendTag(b, opAddParticipant, protowire.BytesType)
		b = protowire.AppendString(b, op.Participant)
	case OpRemoveParticipant:
		b = protowire.AppendTag(b, opRemoveParticipant, protowire.BytesType)
		b = protowire.AppendString(b, op.Participant)
	}

	return append(b, op.rest...)
}

// WaveletDelta is a ProtocolWaveletDelta: the version it applies at, its
// author, and its operations. Unknown fields are preserved.
type WaveletDelta struct {
	HashedVersion HashedVersion
	Author        string
	Operations    []Operation

	rest []byte
}

// ParseWaveletDelta decodes a ProtocolWaveletDelta.
func ParseWaveletDelta(b []byte) (*WaveletDelta, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}

	var (
		d          WaveletDelta
		haveHV     bool
		haveAuthor bool
	)

	for _, f := range fields {
		switch f.num {
		case wdHashedVersion:
			if err := f.want(protowire.BytesType); err != nil {
				return nil, err
			}

			hv, hvErr := ParseHashedVersion(f.val)
			if hvErr != nil {
				return nil, fmt.Errorf("delta: hashed version: %w", hvErr)
			}

			d.HashedVersion = hv
			haveHV = true
		case wdAuthor:
			if err := f.want(protowire.BytesType); err != nil {
				return nil, err
			}

			d.Author = string(f.val)
			haveAuthor = true
		case wdOperation:
			if err := f.want(protowire.BytesType); err != nil {
				return nil, err
			}

			op, opErr := parseOperation(f.val)
			if opErr != nil {
				return nil, fmt.Errorf("delta: operation %d: %w", len(d.Operations), opErr)
			}

			d.Operations = append(d.Operations, op)
		default:
			d.rest = append(d.rest, f.raw...)
		}
	}

	if !haveHV || !haveAuthor {
		return nil, fmt.Errorf("%w: wavelet delta missing hashed version or author", ErrMalformed)
	}

	return &d, nil
}

// Marshal encodes d. Fields are written in field-number order with
// preserved unknown fields last.
func (d *WaveletDelta) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, wdHashedVersion, protowire.BytesType)
	b = protowire.AppendBytes(b, d.HashedVersion.Marshal())
	b = protowire.AppendTag(b, wdAuthor, protowire.BytesType)
	b = protowire.AppendString(b, d.Author)

	for _, op := range d.Operations {
		b = protowire.AppendTag(b, wdOperation, protowire.BytesType)
		b = protowire.AppendBytes(b, op.marshal())
	}

	return append(b, d.rest...)
}

// AppliedDelta is a ProtocolAppliedWaveletDelta as recorded by the source
// server: the signed original delta plus where and when it was applied.
type AppliedDelta struct {
	// Delta is the serialized ProtocolWaveletDelta from the signed original.
	Delta []byte

	// Signatures are raw ProtocolSignature messages, passed through.
	Signatures [][]byte

	AppliedAt            *HashedVersion
	OperationsApplied    int32
	ApplicationTimestamp int64
}

// ParseAppliedDelta decodes a ProtocolAppliedWaveletDelta.
func ParseAppliedDelta(b []byte) (*AppliedDelta, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}

	var (
		ad         AppliedDelta
		haveSigned bool
	)

	for _, f := range fields {
		switch f.num {
		case adSignedOriginalDelta:
			if err := f.want(protowire.BytesType); err != nil {
				return nil, err
			}

			if err := ad.parseSigned(f.val); err != nil {
				return nil, err
			}

			haveSigned = true
		case adHashedVersionAppliedAt:
			if err := f.want(protowire.BytesType); err != nil {
				return nil, err
			}

			hv, hvErr := ParseHashedVersion(f.val)
			if hvErr != nil {
				return nil, fmt.Errorf("delta: applied-at version: %w", hvErr)
			}

			ad.AppliedAt = &hv
		case adOperationsApplied:
			if err := f.want(protowire.VarintType); err != nil {
				return nil, err
			}

			ad.OperationsApplied = int32(f.u)
		case adApplicationTimestamp:
			if err := f.want(protowire.VarintType); err != nil {
				return nil, err
			}

			ad.ApplicationTimestamp = int64(f.u)
		}
	}

	if !haveSigned {
		return nil, fmt.Errorf("%w: applied delta without signed original", ErrMalformed)
	}

	return &ad, nil
}

func (ad *AppliedDelta) parseSigned(b []byte) error {
	fields, err := parseFields(b)
	if err != nil {
		return err
	}

	haveDelta := false

	for _, f := range fields {
		switch f.num {
		case sdDelta:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}

			ad.Delta = append([]byte(nil), f.val...)
			haveDelta = true
		case sdSignature:
			if err := f.want(protowire.BytesType); err != nil {
				return err
			}

			ad.Signatures = append(ad.Signatures, append([]byte(nil), f.val...))
		}
	}

	if !haveDelta {
		return fmt.Errorf("%w: signed delta without delta bytes", ErrMalformed)
	}

	return nil
}

// Marshal encodes ad as a ProtocolAppliedWaveletDelta.
func (ad *AppliedDelta) Marshal() []byte {
	var signed []byte
	signed = protowire.AppendTag(signed, sdDelta, protowire.BytesType)
	signed = protowire.AppendBytes(signed, ad.Delta)

	for _, sig := range ad.Signatures {
		signed = protowire.AppendTag(signed, sdSignature, protowire.BytesType)
		signed = protowire.AppendBytes(signed, sig)
	}

	var b []byte
	b = protowire.AppendTag(b, adSignedOriginalDelta, protowire.BytesType)
	b = protowire.AppendBytes(b, signed)

	if ad.AppliedAt != nil {
		b = protowire.AppendTag(b, adHashedVersionAppliedAt, protowire.BytesType)
		b = protowire.AppendBytes(b, ad.AppliedAt.Marshal())
	}

	b = protowire.AppendTag(b, adOperationsApplied, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ad.OperationsApplied))
	b = protowire.AppendTag(b, adApplicationTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ad.ApplicationTimestamp))

	return b
}
