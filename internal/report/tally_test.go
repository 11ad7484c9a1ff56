package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTally() *Tally {
	t := NewTally(slog.New(slog.NewTextHandler(io.Discard, nil)))
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t.nowFunc = func() time.Time { return fixed }

	return t
}

func TestTally_Counts(t *testing.T) {
	tally := newTestTally()

	tally.Done("a")
	tally.Done("b")
	tally.Skipped("c")
	tally.Failed("d", errors.New("boom"))
	tally.Failed("e", errors.New("first"))
	tally.Failed("e", errors.New("second"))

	s := tally.Summary()
	assert.Equal(t, 2, s.Done)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 2, s.Failed, "repeat failures of one item count once")
	assert.Equal(t, 5, s.Total())

	require.Len(t, s.Failures, 2)
	assert.Equal(t, "d", s.Failures[0].Item)
	assert.Equal(t, "second", s.Failures[1].Err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), s.Failures[1].At)
}

func TestTally_SuccessClearsFailure(t *testing.T) {
	tally := newTestTally()

	tally.Failed("a", errors.New("transient"))
	tally.Done("a")

	s := tally.Summary()
	assert.Equal(t, 1, s.Done)
	assert.Equal(t, 0, s.Failed)
	assert.Empty(t, s.Failures)
}

func TestSummary_Write(t *testing.T) {
	s := Summary{
		Done:     1234,
		Skipped:  5,
		Failed:   1,
		Failures: []Failure{{Item: "x", Err: "bad"}},
	}

	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf, NewPrinter("en"), "wavelets", "exported"))
	assert.Equal(t, "wavelets: 1,234 exported, 5 skipped, 1 failed\n  failed: x: bad\n", buf.String())
}

func TestSummary_WriteTruncatesFailures(t *testing.T) {
	var s Summary
	for i := range maxListed + 3 {
		s.Failures = append(s.Failures, Failure{Item: fmt.Sprint(i), Err: "e"})
	}

	s.Failed = len(s.Failures)

	var buf bytes.Buffer
	require.NoError(t, s.Write(&buf, NewPrinter(""), "bundles", "imported"))
	assert.Contains(t, buf.String(), "... and 3 more")
	assert.NotContains(t, buf.String(), "failed: 20:")
}

func TestNewPrinter_Fallback(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewPrinter("!!").Fprintf(&buf, "%d", 1000)
	require.NoError(t, err)
	assert.Equal(t, "1,000", buf.String())
}
