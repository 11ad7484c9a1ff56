package delta

import (
	"crypto/sha256"
	"strings"

	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// GatewaySuffix marks participant aliases minted by the source service's
// foreign gateway. They do not name a real account.
const GatewaySuffix = "@a.gwave.com"

// RewriteState is the value returned by the previous RewriteDomain call of
// the same bundle. The zero value means "no previous value".
type RewriteState struct {
	Last    string
	HasLast bool
}

// RewriteDomain moves a participant address to domain.
//
//   - No '@': returned unchanged.
//   - Gateway alias with a previous value: the previous value is reused, on
//     the assumption that the alias stands for whoever was rewritten last.
//     This can misattribute if that assumption does not hold.
//   - Otherwise: local part kept, domain replaced.
//
// Every returned value becomes the next state, including unchanged ones.
func RewriteDomain(participant, domain string, st RewriteState) (string, RewriteState) {
	out := participant

	if at := strings.IndexByte(participant, '@'); at >= 0 {
		if strings.HasSuffix(participant, GatewaySuffix) && st.HasLast {
			out = st.Last
		} else {
			out = participant[:at] + "@" + domain
		}
	}

	return out, RewriteState{Last: out, HasLast: true}
}

// Genesis returns the version-0 hashed version of a wavelet: its history
// hash is the bytes of the wavelet's wave:// URI, keyed by the wave's domain.
func Genesis(name waveid.WaveletName) HashedVersion {
	return HashedVersion{Version: 0, HistoryHash: []byte(name.URI())}
}

// historyHashSize is the length of a history hash after the genesis.
const historyHashSize = 20

// Next returns the hashed version after applying a delta at prev: the
// version advances by the operation count and the hash is the first 20
// bytes of SHA-256(prev hash || delta bytes).
func Next(prev HashedVersion, deltaBytes []byte, ops int) HashedVersion {
	h := sha256.New()
	h.Write(prev.HistoryHash)
	h.Write(deltaBytes)

	return HashedVersion{
		Version:     prev.Version + int64(ops),
		HistoryHash: h.Sum(nil)[:historyHashSize],
	}
}
