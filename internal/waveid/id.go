// Package waveid provides the structured identifiers of the wave data model:
// WaveID (a document), WaveletID (one history stream inside a document) and
// WaveletName (the pair). Each identifier is a (domain, local id) pair with a
// canonical "domain!id" string form. Identity and equality are by the pair.
//
// This is a leaf package with zero external dependencies beyond stdlib.
package waveid

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"errors"
	"fmt"
	"strings"
)

// separator splits domain and local id in the canonical form.
const separator = "!"

// ErrInvalid is returned for identifiers that cannot be parsed or built.
var ErrInvalid = errors.New("waveid: invalid identifier")

// WaveID identifies a document. The zero value (WaveID{}) means absent.
type WaveID struct {
	domain string
	id     string
}

// WaveletID identifies one wavelet within a document. The zero value
// (WaveletID{}) means absent.
type WaveletID struct {
	domain string
	id     string
}

// NewWaveID builds a WaveID from its components.
func NewWaveID(domain, id string) (WaveID, error) {
	if err := validate(domain, id); err != nil {
		return WaveID{}, err
	}

	return WaveID{domain: domain, id: id}, nil
}

// ParseWaveID parses the canonical "domain!id" form.
func ParseWaveID(s string) (WaveID, error) {
	domain, id, err := split(s)
	if err != nil {
		return WaveID{}, err
	}

	return WaveID{domain: domain, id: id}, nil
}

// MustParseWaveID is ParseWaveID for constants and tests. Panics on error.
func MustParseWaveID(s string) WaveID {
	w, err := ParseWaveID(s)
	if err != nil {
		panic(err)
	}

	return w
}

// Domain returns the domain component.
func (w WaveID) Domain() string { return w.domain }

// ID returns the local id component.
func (w WaveID) ID() string { return w.id }

// IsZero reports whether this is the zero WaveID.
func (w WaveID) IsZero() bool { return w.domain == "" && w.id == "" }

// String returns the canonical "domain!id" form, or "" for the zero value.
func (w WaveID) String() string { return join(w.domain, w.id) }

// WithDomain returns the same local id re-scoped to domain.
func (w WaveID) WithDomain(domain string) (WaveID, error) {
	return NewWaveID(domain, w.id)
}

// MarshalText implements encoding.TextMarshaler.
func (w WaveID) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input produces
// the zero value.
func (w *WaveID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*w = WaveID{}
		return nil
	}

	parsed, err := ParseWaveID(string(text))
	if err != nil {
		return err
	}

	*w = parsed

	return nil
}

// Scan implements sql.Scanner. SQL NULL produces the zero value.
func (w *WaveID) Scan(src any) error {
	s, err := scanString("WaveID", src)
	if err != nil {
		return err
	}

	return w.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer. The zero value writes SQL NULL.
func (w WaveID) Value() (driver.Value, error) {
	if w.IsZero() {
		return nil, nil
	}

	return w.String(), nil
}

// NewWaveletID builds a WaveletID from its components.
func NewWaveletID(domain, id string) (WaveletID, error) {
	if err := validate(domain, id); err != nil {
		return WaveletID{}, err
	}

	return WaveletID{domain: domain, id: id}, nil
}

// ParseWaveletID parses the canonical "domain!id" form.
func ParseWaveletID(s string) (WaveletID, error) {
	domain, id, err := split(s)
	if err != nil {
		return WaveletID{}, err
	}

	return WaveletID{domain: domain, id: id}, nil
}

// MustParseWaveletID is ParseWaveletID for constants and tests. Panics on error.
func MustParseWaveletID(s string) WaveletID {
	w, err := ParseWaveletID(s)
	if err != nil {
		panic(err)
	}

	return w
}

// Domain returns the domain component.
func (w WaveletID) Domain() string { return w.domain }

// ID returns the local id component.
func (w WaveletID) ID() string { return w.id }

// IsZero reports whether this is the zero WaveletID.
func (w WaveletID) IsZero() bool { return w.domain == "" && w.id == "" }

// String returns the canonical "domain!id" form, or "" for the zero value.
func (w WaveletID) String() string { return join(w.domain, w.id) }

// WithDomain returns the same local id re-scoped to domain.
func (w WaveletID) WithDomain(domain string) (WaveletID, error) {
	return NewWaveletID(domain, w.id)
}

// MarshalText implements encoding.TextMarshaler.
func (w WaveletID) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (w *WaveletID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*w = WaveletID{}
		return nil
	}

	parsed, err := ParseWaveletID(string(text))
	if err != nil {
		return err
	}

	*w = parsed

	return nil
}

// Scan implements sql.Scanner. SQL NULL produces the zero value.
func (w *WaveletID) Scan(src any) error {
	s, err := scanString("WaveletID", src)
	if err != nil {
		return err
	}

	return w.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer. The zero value writes SQL NULL.
func (w WaveletID) Value() (driver.Value, error) {
	if w.IsZero() {
		return nil, nil
	}

	return w.String(), nil
}

func split(s string) (string, string, error) {
	domain, id, ok := strings.Cut(s, separator)
	if !ok {
		return "", "", fmt.Errorf("%w: %q has no %q separator", ErrInvalid, s, separator)
	}

	if err := validate(domain, id); err != nil {
		return "", "", err
	}

	return domain, id, nil
}

func join(domain, id string) string {
	if domain == "" && id == "" {
		return ""
	}

	return domain + separator + id
}

// validate checks both components. Domains are host names; local ids use the
// URI-safe character set of the wave model (letters, digits, and -._~+*@).
func validate(domain, id string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalid)
	}

	if id == "" {
		return fmt.Errorf("%w: empty id in domain %q", ErrInvalid, domain)
	}

	for _, r := range domain {
		if !isDomainRune(r) {
			return fmt.Errorf("%w: domain %q contains %q", ErrInvalid, domain, r)
		}
	}

	for _, r := range id {
		if !isIDRune(r) {
			return fmt.Errorf("%w: id %q contains %q", ErrInvalid, id, r)
		}
	}

	return nil
}

func isDomainRune(r rune) bool {
	return isAlnum(r) || r == '-' || r == '.'
}

func isIDRune(r rune) bool {
	if isAlnum(r) {
		return true
	}

	switch r {
	case '-', '.', '_', '~', '+', '*', '@':
		return true
	default:
		return false
	}
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func scanString(typeName string, src any) (string, error) {
	switch v := src.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("waveid.%s.Scan: unsupported type %T", typeName, src)
	}
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = WaveID{}
	_ encoding.TextUnmarshaler = (*WaveID)(nil)
	_ fmt.Stringer             = WaveID{}
	_ driver.Valuer            = WaveID{}
	_ sql.Scanner              = (*WaveID)(nil)
	_ encoding.TextMarshaler   = WaveletID{}
	_ encoding.TextUnmarshaler = (*WaveletID)(nil)
	_ fmt.Stringer             = WaveletID{}
	_ driver.Valuer            = WaveletID{}
	_ sql.Scanner              = (*WaveletID)(nil)
)
