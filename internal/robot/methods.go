package robot

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// Method names.
const (
	MethodFetchWave = "wave.robot.fetchWave"
	MethodSearch    = "wave.robot.search"
)

// Snapshot is the current state of one wavelet: serialized wavelet metadata
// and its documents in server order. Both are opaque here.
type Snapshot struct {
	Wavelet   []byte
	Documents [][]byte
}

// Digest is one search hit.
type Digest struct {
	WaveID       waveid.WaveID
	Title        string
	Participants []string
	LastModified time.Time
	Snippet      string
	BlipCount    int
	UnreadCount  int
}

// FetchSnapshot returns the raw snapshot of a wavelet. The server encodes it
// as an array of base64 strings: element 0 is the wavelet metadata, the rest
// are documents.
func (c *Client) FetchSnapshot(ctx context.Context, name waveid.WaveletName) (*Snapshot, error) {
	res, err := c.call(ctx, MethodFetchWave, map[string]any{
		"waveId":            name.Wave.String(),
		"waveletId":         name.Wavelet.String(),
		"returnRawSnapshot": true,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		RawSnapshot []string `json:"rawSnapshot"`
	}

	if err := json.Unmarshal(res.data, &body); err != nil || len(body.RawSnapshot) == 0 {
		return nil, &ProtocolError{Method: MethodFetchWave, Reason: "missing rawSnapshot", Payload: string(res.data)}
	}

	parts := make([][]byte, 0, len(body.RawSnapshot))

	for i, s := range body.RawSnapshot {
		b, decErr := base64.StdEncoding.DecodeString(s)
		if decErr != nil {
			return nil, &ProtocolError{
				Method:  MethodFetchWave,
				Reason:  fmt.Sprintf("rawSnapshot[%d] is not base64: %v", i, decErr),
				Payload: s,
			}
		}

		parts = append(parts, b)
	}

	return &Snapshot{Wavelet: parts[0], Documents: parts[1:]}, nil
}

// ListWavelets returns the ids of the wavelets of a wave visible to the
// authenticated user.
func (c *Client) ListWavelets(ctx context.Context, wave waveid.WaveID) ([]waveid.WaveletID, error) {
	res, err := c.call(ctx, MethodFetchWave, map[string]any{
		"waveId":       wave.String(),
		"listWavelets": true,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		WaveletIDs []string `json:"waveletIds"`
	}

	if err := json.Unmarshal(res.data, &body); err != nil || body.WaveletIDs == nil {
		return nil, &ProtocolError{Method: MethodFetchWave, Reason: "missing waveletIds", Payload: string(res.data)}
	}

	ids := make([]waveid.WaveletID, 0, len(body.WaveletIDs))

	for _, raw := range body.WaveletIDs {
		id, parseErr := waveid.ParseWaveletID(raw)
		if parseErr != nil {
			return nil, &ProtocolError{Method: MethodFetchWave, Reason: parseErr.Error(), Payload: string(res.data)}
		}

		ids = append(ids, id)
	}

	c.logger.Debug("listed wavelets", slog.String("wave_id", wave.String()), slog.Int("count", len(ids)))

	return ids, nil
}

// FetchDeltaHistory returns the full delta history of a wavelet as the raw
// response item ({"id":..., "data":{"rawDeltas":[...]}}), undecoded, ready
// to be stored as a bundle.
func (c *Client) FetchDeltaHistory(ctx context.Context, name waveid.WaveletName) (json.RawMessage, error) {
	res, err := c.call(ctx, MethodFetchWave, map[string]any{
		"waveId":               name.Wave.String(),
		"waveletId":            name.Wavelet.String(),
		"rawDeltasFromVersion": 0,
	})
	if err != nil {
		return nil, err
	}

	return res.item, nil
}

// rawDigest mirrors the wire form of a digest.
type rawDigest struct {
	WaveID       string   `json:"waveId"`
	Title        string   `json:"title"`
	Participants []string `json:"participants"`
	LastModified int64    `json:"lastModified"`
	Snippet      string   `json:"snippet"`
	BlipCount    int      `json:"blipCount"`
	UnreadCount  int      `json:"unreadCount"`
}

// Search returns up to maxResults digests starting at startIndex. The
// server may cap the total result set of a query at a few hundred hits, so
// paging does not guarantee coverage of the whole corpus.
func (c *Client) Search(ctx context.Context, query string, startIndex, maxResults int) ([]Digest, error) {
	res, err := c.call(ctx, MethodSearch, map[string]any{
		"query":      query,
		"index":      startIndex,
		"numResults": maxResults,
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		SearchResults *struct {
			NumResults *int        `json:"numResults"`
			Digests    []rawDigest `json:"digests"`
		} `json:"searchResults"`
	}

	if err := json.Unmarshal(res.data, &body); err != nil {
		return nil, &ProtocolError{Method: MethodSearch, Reason: "malformed search results: " + err.Error(), Payload: string(res.data)}
	}

	sr := body.SearchResults
	if sr == nil || sr.NumResults == nil || sr.Digests == nil {
		return nil, &ProtocolError{Method: MethodSearch, Reason: "missing searchResults fields", Payload: string(res.data)}
	}

	if *sr.NumResults != len(sr.Digests) {
		return nil, &ProtocolError{
			Method:  MethodSearch,
			Reason:  fmt.Sprintf("numResults %d does not match %d digests", *sr.NumResults, len(sr.Digests)),
			Payload: string(res.data),
		}
	}

	digests := make([]Digest, 0, len(sr.Digests))

	for _, rd := range sr.Digests {
		wave, parseErr := waveid.ParseWaveID(rd.WaveID)
		if parseErr != nil {
			return nil, &ProtocolError{Method: MethodSearch, Reason: parseErr.Error(), Payload: string(res.data)}
		}

		digests = append(digests, Digest{
			WaveID:       wave,
			Title:        rd.Title,
			Participants: dedupe(rd.Participants),
			LastModified: time.UnixMilli(rd.LastModified).UTC(),
			Snippet:      rd.Snippet,
			BlipCount:    rd.BlipCount,
			UnreadCount:  rd.UnreadCount,
		})
	}

	return digests, nil
}

// dedupe keeps the first occurrence of each value, preserving order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))

	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}
		out = append(out, s)
	}

	return out
}
