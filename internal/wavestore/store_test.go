package wavestore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavemigrate/wavemigrate/internal/delta"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "waves.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	return s
}

func testName() waveid.WaveletName {
	return waveid.NewWaveletName(
		waveid.MustParseWaveID("dest.example!w+abc"),
		waveid.MustParseWaveletID("dest.example!conv+root"),
	)
}

func TestSubmit_GenesisThenChain(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	name := testName()

	ok, err := s.HasSnapshot(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	first := &delta.WaveletDelta{
		HashedVersion: delta.Genesis(name),
		Author:        "alice@dest.example",
		Operations:    []delta.Operation{delta.AddParticipant("alice@dest.example"), delta.AddParticipant("bob@dest.example")},
	}

	v1, err := s.Submit(ctx, name, first)
	require.NoError(t, err)
	assert.Equal(t, delta.Next(delta.Genesis(name), first.Marshal(), 2), v1)

	ok, err = s.HasSnapshot(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok)

	second := &delta.WaveletDelta{
		HashedVersion: v1,
		Author:        "bob@dest.example",
		Operations:    []delta.Operation{delta.RemoveParticipant("alice@dest.example")},
	}

	v2, err := s.Submit(ctx, name, second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v2.Version)

	headVersion, ok, err := s.Head(ctx, name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v2, headVersion)

	participants, err := s.Participants(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@dest.example"}, participants)

	history, err := s.History(ctx, name)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(0), history[0].AppliedVersion)
	assert.Equal(t, v1, history[0].Resulting)
	assert.Equal(t, int64(2), history[1].AppliedVersion)
	assert.Equal(t, second.Marshal(), history[1].Delta)
	assert.Equal(t, "bob@dest.example", history[1].Author)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), history[1].AppliedAt)
}

func TestSubmit_WrongVersionRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	name := testName()

	bad := &delta.WaveletDelta{
		HashedVersion: delta.HashedVersion{Version: 0, HistoryHash: []byte("wave://elsewhere/x/y")},
		Author:        "a@dest.example",
	}

	_, err := s.Submit(ctx, name, bad)
	require.ErrorIs(t, err, ErrVersionMismatch)

	ok, err := s.HasSnapshot(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok, "rejected genesis leaves no wavelet behind")
}

func TestSubmit_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	name := testName()

	d := &delta.WaveletDelta{
		HashedVersion: delta.Genesis(name),
		Author:        "a@dest.example",
		Operations:    []delta.Operation{delta.AddParticipant("a@dest.example")},
	}

	_, err := s.Submit(ctx, name, d)
	require.NoError(t, err)

	// Replaying the same delta is at a stale version now.
	_, err = s.Submit(ctx, name, d)
	require.ErrorIs(t, err, ErrVersionMismatch)

	history, err := s.History(ctx, name)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSubmit_InvalidParticipantOpsRollBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	name := testName()

	dup := &delta.WaveletDelta{
		HashedVersion: delta.Genesis(name),
		Author:        "a@dest.example",
		Operations:    []delta.Operation{delta.AddParticipant("a@dest.example"), delta.AddParticipant("a@dest.example")},
	}

	_, err := s.Submit(ctx, name, dup)
	require.ErrorIs(t, err, ErrInvalidDelta)

	ok, err := s.HasSnapshot(ctx, name)
	require.NoError(t, err)
	assert.False(t, ok)

	missing := &delta.WaveletDelta{
		HashedVersion: delta.Genesis(name),
		Author:        "a@dest.example",
		Operations:    []delta.Operation{delta.RemoveParticipant("nobody@dest.example")},
	}

	_, err = s.Submit(ctx, name, missing)
	require.ErrorIs(t, err, ErrInvalidDelta)
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "waves.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	name := testName()

	s, err := Open(ctx, path, logger)
	require.NoError(t, err)

	_, err = s.Submit(ctx, name, &delta.WaveletDelta{HashedVersion: delta.Genesis(name), Author: "a@dest.example"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path, logger)
	require.NoError(t, err)
	defer s2.Close()

	ok, err := s2.HasSnapshot(ctx, name)
	require.NoError(t, err)
	assert.True(t, ok, "data survives reopen and migrations are not reapplied")
}
