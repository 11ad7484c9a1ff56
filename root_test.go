package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavemigrate/wavemigrate/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must either:
//   - Set globals AFTER newRootCmd() returns (direct function tests), or
//   - Use cmd.SetArgs() + cmd.Execute() to let Cobra parse flags (integration tests).

// saveGlobals restores the package-level CLI state when the test ends.
func saveGlobals(t *testing.T) {
	t.Helper()

	oldCfg, oldPath := resolvedCfg, resolvedCfgPath
	oldConfig, oldVerbose, oldQuiet := flagConfigPath, flagVerbose, flagQuiet

	t.Cleanup(func() {
		resolvedCfg, resolvedCfgPath = oldCfg, oldPath
		flagConfigPath, flagVerbose, flagQuiet = oldConfig, oldVerbose, oldQuiet
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// --- buildLogger tests ---

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		cfgLevel string
		verbose  bool
		quiet    bool
		enabled  slog.Level
		disabled slog.Level
	}{
		{"no config", "", false, false, slog.LevelInfo, slog.LevelDebug},
		{"config debug", "debug", false, false, slog.LevelDebug, slog.LevelDebug - 1},
		{"config warn", "warn", false, false, slog.LevelWarn, slog.LevelInfo},
		{"verbose overrides config", "error", true, false, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet overrides config", "debug", false, true, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saveGlobals(t)

			resolvedCfg = nil
			if tt.cfgLevel != "" {
				resolvedCfg = config.DefaultConfig()
				resolvedCfg.LogLevel = tt.cfgLevel
			}

			flagVerbose = tt.verbose
			flagQuiet = tt.quiet

			h := buildLogger(&bytes.Buffer{}).Handler()
			assert.True(t, h.Enabled(context.Background(), tt.enabled))
			assert.False(t, h.Enabled(context.Background(), tt.disabled))
		})
	}
}

func TestBuildLogger_AutoFormatIsJSONOffTerminal(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = nil
	flagVerbose, flagQuiet = false, false

	var buf bytes.Buffer
	buildLogger(&buf).Info("hello", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
	assert.NotEmpty(t, rec["run_id"])
}

func TestBuildLogger_TextFormat(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = config.DefaultConfig()
	resolvedCfg.LogFormat = "text"
	flagVerbose, flagQuiet = false, false

	var buf bytes.Buffer
	buildLogger(&buf).Info("hello")

	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "run_id=")
}

func TestBuildLogger_RunIDPerLogger(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = nil

	var a, b bytes.Buffer
	buildLogger(&a).Info("x")
	buildLogger(&b).Info("x")

	var ra, rb map[string]any
	require.NoError(t, json.Unmarshal(a.Bytes(), &ra))
	require.NoError(t, json.Unmarshal(b.Bytes(), &rb))
	assert.NotEqual(t, ra["run_id"], rb["run_id"])
}

// --- command tree tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"export", "import", "serve-import", "fetch", "search", "verify", "config"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "expected persistent flag %q", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	saveGlobals(t)

	cfgPath := filepath.Join(t.TempDir(), "none.toml")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--verbose", "--quiet", "--config", cfgPath, "config", "show"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNewRootCmd_ExportNeedsSevenArgs(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "export", "id", "secret"})

	require.Error(t, cmd.Execute())
}

func TestNewRootCmd_ImportArgCounts(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "import", "http://x", "dir"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected <bundle-dir>")
}

func TestImport_RequiresURLAndDomain(t *testing.T) {
	saveGlobals(t)

	// No import_url in config and only the directory given.
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "import", t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import URL and destination domain are required")
}

// --- loadConfig tests ---

func TestLoadConfig_ValidTOML(t *testing.T) {
	saveGlobals(t)

	cfgFile := writeConfig(t, `
rpc_url = "https://wave.example.com/robot/rpc"
search_query = "in:inbox after:2010/01/01"
page_size = 50
`)

	cmd := newRootCmd()
	flagConfigPath = cfgFile

	require.NoError(t, loadConfig(cmd))
	require.NotNil(t, resolvedCfg)

	assert.Equal(t, "https://wave.example.com/robot/rpc", resolvedCfg.RPCURL)
	assert.Equal(t, "in:inbox after:2010/01/01", resolvedCfg.SearchQuery)
	assert.Equal(t, 50, resolvedCfg.PageSize)
	assert.Equal(t, cfgFile, resolvedCfgPath)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()
	flagConfigPath = filepath.Join(t.TempDir(), "nonexistent.toml")

	require.NoError(t, loadConfig(cmd))
	assert.Equal(t, config.DefaultConfig().RPCURL, resolvedCfg.RPCURL)
	assert.Equal(t, config.DefaultConfig().PageSize, resolvedCfg.PageSize)
}

func TestLoadConfig_UnknownKey(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()
	flagConfigPath = writeConfig(t, `serch_query = "x"`)

	err := loadConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "search_query"`)
}

func TestLoadConfig_CommandFlagsOverrideFile(t *testing.T) {
	saveGlobals(t)

	cfgFile := writeConfig(t, `
search_query = "from-file"
page_size = 50
`)

	cmd := newRootCmd()
	search, _, err := cmd.Find([]string{"search"})
	require.NoError(t, err)
	require.NoError(t, search.Flags().Parse([]string{"--page-size", "7"}))

	flagConfigPath = cfgFile

	require.NoError(t, loadConfig(search))
	assert.Equal(t, 7, resolvedCfg.PageSize)
	assert.Equal(t, "from-file", resolvedCfg.SearchQuery)
}

func TestLoadConfig_InvalidFlagValue(t *testing.T) {
	saveGlobals(t)

	cmd := newRootCmd()
	export, _, err := cmd.Find([]string{"export"})
	require.NoError(t, err)
	require.NoError(t, export.Flags().Parse([]string{"--page-size", "5000"}))

	flagConfigPath = filepath.Join(t.TempDir(), "none.toml")

	require.Error(t, loadConfig(export))
}

func TestFlagHelpers_UnsetReturnNil(t *testing.T) {
	cmd := newRootCmd()
	search, _, err := cmd.Find([]string{"search"})
	require.NoError(t, err)

	assert.Nil(t, stringFlag(search, "rpc-url"))
	assert.Nil(t, intFlag(search, "page-size"))
	assert.Nil(t, stringFlag(search, "no-such-flag"))

	require.NoError(t, search.Flags().Parse([]string{"--rpc-url", "https://x.example/rpc"}))

	got := stringFlag(search, "rpc-url")
	require.NotNil(t, got)
	assert.Equal(t, "https://x.example/rpc", *got)
}

func TestNewHTTPClient_HasTimeout(t *testing.T) {
	saveGlobals(t)

	resolvedCfg = config.DefaultConfig()

	assert.Equal(t, resolvedCfg.Timeout(), newHTTPClient().Timeout)
	assert.Positive(t, newHTTPClient().Timeout)
}
