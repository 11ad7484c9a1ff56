package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

func testName(t *testing.T, wave, wavelet string) waveid.WaveletName {
	t.Helper()

	return waveid.NewWaveletName(waveid.MustParseWaveID(wave), waveid.MustParseWaveletID(wavelet))
}

func TestFileName_RoundTrip(t *testing.T) {
	name := testName(t, "googlewave.com!w+aaaa", "googlewave.com!conv+root")

	fn := FileName(name)
	assert.Equal(t, "googlewave.com!w+aaaa#googlewave.com!conv+root#json", fn)

	parsed, err := ParseName(fn)
	require.NoError(t, err)
	assert.Equal(t, name, parsed)
}

func TestParseName_Invalid(t *testing.T) {
	for _, fn := range []string{
		"notes.json",
		"a.com!w+1#a.com!conv+root",
		"a.com!w+1#a.com!conv+root#xml",
		"a.com!w+1#bad#json",
		"a#b#c#json",
	} {
		t.Run(fn, func(t *testing.T) {
			_, err := ParseName(fn)
			require.ErrorIs(t, err, ErrBadName)
		})
	}
}

func TestStore_WriteExistsRead(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "export"))
	name := testName(t, "a.com!w+1", "a.com!conv+root")

	ok, err := s.Exists(name)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Write(name, []byte(`{"data":{}}`)))

	ok, err = s.Exists(name)
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := s.Read(name)
	require.NoError(t, err)
	assert.Equal(t, `{"data":{}}`, string(data))

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file removed after rename")
	assert.Equal(t, FileName(name), entries[0].Name())
}

func TestStore_List(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	b := testName(t, "a.com!w+b", "a.com!conv+root")
	a := testName(t, "a.com!w+a", "a.com!conv+root")

	require.NoError(t, s.Write(b, []byte("{}")))
	require.NoError(t, s.Write(a, []byte("{}")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".bundle-123.tmp"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken#json"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub#json"), 0o755))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, a, entries[0].Name)
	assert.NoError(t, entries[0].Err)
	assert.Equal(t, b, entries[1].Name)
	assert.Equal(t, filepath.Join(dir, "broken#json"), entries[2].Path)
	assert.ErrorIs(t, entries[2].Err, ErrBadName)
}

func TestStore_ListMissingDir(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "absent")).List()
	require.Error(t, err)
}

func TestRawDeltas(t *testing.T) {
	deltas := [][]byte{{0x0a, 0x01}, {0xff, 0x00, 0x10}, {}}

	got, err := RawDeltas(Encode(deltas))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, deltas[0], got[0])
	assert.Equal(t, deltas[1], got[1])
	assert.Empty(t, got[2])
}

func TestRawDeltas_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"invalid json", `{"data":`, ErrInvalid},
		{"no deltas", `{"data":{"other":[]}}`, ErrNoDeltas},
		{"not a string", `{"data":{"rawDeltas":[1]}}`, ErrInvalid},
		{"not base64", `{"data":{"rawDeltas":["%%"]}}`, ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RawDeltas([]byte(tt.body))
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := RawDeltas([]byte(`{"data":{}}`))
	require.ErrorIs(t, err, ErrNoDeltas)
}

func TestRawDeltas_EscapedSlash(t *testing.T) {
	// JSON encoders may escape '/' in base64 text.
	got, err := RawDeltas([]byte(`{"data":{"rawDeltas":["\/w=="]}}`))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0xff}}, got)
}
