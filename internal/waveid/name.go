package waveid

import "fmt"

// WaveletName is the composite (WaveID, WaveletID) pair that addresses one
// history stream. Comparable, so it can key maps directly.
type WaveletName struct {
	Wave    WaveID
	Wavelet WaveletID
}

// NewWaveletName creates a WaveletName.
func NewWaveletName(wave WaveID, wavelet WaveletID) WaveletName {
	return WaveletName{Wave: wave, Wavelet: wavelet}
}

// String returns "waveId/waveletId" for logging.
func (n WaveletName) String() string {
	return n.Wave.String() + "/" + n.Wavelet.String()
}

// IsZero reports whether both components are zero.
func (n WaveletName) IsZero() bool {
	return n.Wave.IsZero() && n.Wavelet.IsZero()
}

// Rescope returns the same local ids re-scoped to domain. Used when history
// moves between servers: the document keeps its identity, the domain changes.
func (n WaveletName) Rescope(domain string) (WaveletName, error) {
	wave, err := n.Wave.WithDomain(domain)
	if err != nil {
		return WaveletName{}, fmt.Errorf("rescoping wave id: %w", err)
	}

	wavelet, err := n.Wavelet.WithDomain(domain)
	if err != nil {
		return WaveletName{}, fmt.Errorf("rescoping wavelet id: %w", err)
	}

	return WaveletName{Wave: wave, Wavelet: wavelet}, nil
}

// URI returns the wave:// form "wave://<domain>/<waveLocalId>/<waveletLocalId>",
// using the wave's domain. The history chain of every wavelet is seeded
// from this string.
func (n WaveletName) URI() string {
	return "wave://" + n.Wave.Domain() + "/" + n.Wave.ID() + "/" + n.Wavelet.ID()
}
