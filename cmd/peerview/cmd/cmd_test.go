package cmd

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/peerview/chat"
	"github.com/udisondev/peerview/node"
	"github.com/udisondev/peerview/node/nodetest"
)

func testCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().StringVar(&flagBackend, "backend", "", "")
	c.Flags().StringVar(&flagDataDir, "data", "", "")
	c.Flags().DurationVar(&flagInterval, "interval", 0, "")
	c.Flags().StringVar(&flagListen, "listen", "", "")
	c.Flags().BoolVar(&flagNotify, "notify", true, "")
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PEERVIEW_DATA_DIR", t.TempDir())

	cfg, err := loadConfig(testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, node.DefaultBaseURL, cfg.Backend)
	assert.Equal(t, chat.DefaultRefreshInterval, cfg.RefreshInterval)
	assert.Equal(t, "127.0.0.1:8000", cfg.Listen)
	assert.True(t, cfg.Notify)
}

func TestLoadConfigEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PEERVIEW_BACKEND", "http://10.0.0.1:8080")
	t.Setenv("PEERVIEW_REFRESH_INTERVAL", "3s")
	t.Setenv("PEERVIEW_DATA_DIR", dir)
	t.Setenv("PEERVIEW_NOTIFY", "false")

	cfg, err := loadConfig(testCommand(t))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8080", cfg.Backend)
	assert.Equal(t, 3*time.Second, cfg.RefreshInterval)
	assert.False(t, cfg.Notify)
	assert.Equal(t, filepath.Join(dir, "history.db"), cfg.dbPath())

	cfg, err = loadConfig(testCommand(t, "--backend", "127.0.0.1:9000", "--interval", "30s", "--listen", ":9999"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Backend)
	assert.Equal(t, chat.MaxRefreshInterval, cfg.RefreshInterval)
	assert.Equal(t, ":9999", cfg.Listen)
}

func TestLoadConfigRejectsBadEnv(t *testing.T) {
	t.Setenv("PEERVIEW_REFRESH_INTERVAL", "soon")

	_, err := loadConfig(testCommand(t))
	assert.Error(t, err)
}

func TestMessageText(t *testing.T) {
	text, err := messageText([]string{"hello", "there"}, os.Stdin)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte("piped text\n"), 0600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	text, err = messageText(nil, f)
	require.NoError(t, err)
	assert.Equal(t, "piped text", text)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0600))
	f2, err := os.Open(empty)
	require.NoError(t, err)
	defer f2.Close()

	_, err = messageText(nil, f2)
	assert.ErrorIs(t, err, node.ErrEmptyMessage)
}

func TestOneShotCommands(t *testing.T) {
	backend := nodetest.New("alice")
	t.Cleanup(backend.Close)
	t.Setenv("PEERVIEW_BACKEND", backend.URL())
	t.Setenv("PEERVIEW_DATA_DIR", t.TempDir())

	var out bytes.Buffer
	c := testCommand(t)
	c.SetOut(&out)

	require.NoError(t, runAddPeer(c, []string{"10.0.0.1:5000"}))
	assert.Contains(t, out.String(), "Peer 10.0.0.1:5000 added")
	require.Len(t, backend.Requests(http.MethodPost, node.PathPeers), 1)

	sendTo = "bob"
	t.Cleanup(func() { sendTo = "" })
	require.NoError(t, runSend(c, []string{"psst"}))
	private := backend.Requests(http.MethodPost, node.PathPrivateMsg)
	require.Len(t, private, 1)
	assert.Equal(t, "psst", private[0].Form.Get(node.FieldMessage))

	searchBudget = 4
	t.Cleanup(func() { searchBudget = 0 })
	require.NoError(t, runSearch(c, []string{"song,mp3"}))
	searches := backend.Requests(http.MethodPost, node.PathSearchFile)
	require.Len(t, searches, 1)
	assert.Equal(t, "4", searches[0].Form.Get(node.FieldBudget))

	assert.ErrorIs(t, runDownload(c, []string{"nothex", "song.mp3"}), node.ErrInvalidMetahash)
	assert.Empty(t, backend.Requests(http.MethodPost, node.PathDownloadFile))

	backend.Fail(node.PathPeers, http.StatusInternalServerError)
	assert.Error(t, runAddPeer(c, []string{"10.0.0.2:5000"}))
}
