package node_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/peerview/node"
	"github.com/udisondev/peerview/node/nodetest"
)

const testMetahash = "6f1ed002ab5595859014ebf0951522d9ac06bfbbf4b3e5b6a5b9e4b0e0f1c2d3"

func newClient(t *testing.T) (*node.Client, *nodetest.Backend) {
	t.Helper()
	backend := nodetest.New("alice")
	t.Cleanup(backend.Close)

	client, err := node.NewClient(backend.URL())
	require.NoError(t, err)
	return client, backend
}

func TestNewClientAddsScheme(t *testing.T) {
	client, err := node.NewClient("127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", client.BaseURL())

	_, err = node.NewClient("http://")
	assert.Error(t, err)
}

func TestClientReads(t *testing.T) {
	client, backend := newClient(t)
	ctx := context.Background()

	backend.AddPeer("1.2.3.4:8080")
	backend.AddContact("bob", "1.2.3.4:8080")
	backend.AddRumor("bob", "hello")
	backend.AddConfirmed("bob", "song.mp3")
	backend.AddSearchResult(testMetahash, "song.mp3")
	backend.AddPrivate("bob", "bob", "psst")

	id, err := client.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	peers, err := client.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, node.Keyed[string]{{Key: "0", Value: "1.2.3.4:8080"}}, peers)

	contacts, err := client.Contacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, node.Keyed[string]{{Key: "bob", Value: "1.2.3.4:8080"}}, contacts)

	rumors, err := client.Rumors(ctx)
	require.NoError(t, err)
	require.Len(t, rumors, 1)
	assert.Equal(t, node.RumorMessage{ID: 1, Origin: "bob", Text: "hello"}, rumors[0].Value)

	confirmed, err := client.ConfirmedRumors(ctx)
	require.NoError(t, err)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "song.mp3", confirmed[0].Value.TxBlock.Transaction.Name)

	results, err := client.SearchResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, node.Keyed[string]{{Key: testMetahash, Value: "song.mp3"}}, results)

	thread, err := client.PrivateMessages(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, node.PrivateMessage{Origin: "bob", Text: "psst"}, thread[0].Value)

	gets := backend.Requests(http.MethodGet, "/privateMsg")
	require.Len(t, gets, 1)
	assert.Equal(t, "bob", gets[0].Query.Get("peer"))
}

func TestClientRawEndpoints(t *testing.T) {
	client, _ := newClient(t)

	routes, err := client.Routes(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(routes))

	desc, err := client.Node(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice"}`, string(desc))
}

func TestSendMessagePostsOnce(t *testing.T) {
	client, backend := newClient(t)

	require.NoError(t, client.SendMessage(context.Background(), "hello world"))

	posts := backend.Requests(http.MethodPost, "/message")
	require.Len(t, posts, 1)
	assert.Equal(t, "hello world", posts[0].Form.Get("message"))
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	client, backend := newClient(t)

	err := client.SendMessage(context.Background(), "   ")
	assert.ErrorIs(t, err, node.ErrEmptyMessage)
	assert.Empty(t, backend.Requests("", ""))
}

func TestSendPrivate(t *testing.T) {
	client, backend := newClient(t)

	require.NoError(t, client.SendPrivate(context.Background(), "bob", "secret"))

	posts := backend.Requests(http.MethodPost, "/privateMsg")
	require.Len(t, posts, 1)
	assert.Equal(t, "bob", posts[0].Query.Get("peer"))
	assert.Equal(t, "bob", posts[0].Form.Get("peer"))
	assert.Equal(t, "secret", posts[0].Form.Get("message"))

	assert.ErrorIs(t, client.SendPrivate(context.Background(), "", "x"), node.ErrEmptyPeer)
}

func TestDownloadFile(t *testing.T) {
	client, backend := newClient(t)
	ctx := context.Background()

	req := node.DownloadRequest{Metahash: testMetahash, Filename: "song.mp3", Peer: "bob"}
	require.NoError(t, client.DownloadFile(ctx, req))

	posts := backend.Requests(http.MethodPost, "/downloadFile")
	require.Len(t, posts, 1)
	assert.Equal(t, testMetahash, posts[0].Form.Get("metahash"))
	assert.Equal(t, "song.mp3", posts[0].Form.Get("filename"))
	assert.Equal(t, "bob", posts[0].Form.Get("peer"))

	assert.ErrorIs(t, client.DownloadFile(ctx, node.DownloadRequest{Metahash: "abc", Filename: "x"}), node.ErrInvalidMetahash)
	assert.ErrorIs(t, client.DownloadFile(ctx, node.DownloadRequest{Metahash: testMetahash}), node.ErrEmptyFilename)
}

func TestAddPeerAndSearch(t *testing.T) {
	client, backend := newClient(t)
	ctx := context.Background()

	require.NoError(t, client.AddPeer(ctx, " 10.0.0.1:5000 "))
	posts := backend.Requests(http.MethodPost, "/peers")
	require.Len(t, posts, 1)
	assert.Equal(t, "10.0.0.1:5000", posts[0].Form.Get("peerAddr"))

	require.NoError(t, client.SearchFiles(ctx, []string{"song", " mp3, flac ", ""}, 4))
	posts = backend.Requests(http.MethodPost, "/searchFile")
	require.Len(t, posts, 1)
	assert.Equal(t, "song,mp3,flac", posts[0].Form.Get("keywords"))
	assert.Equal(t, "4", posts[0].Form.Get("budget"))

	assert.ErrorIs(t, client.SearchFiles(ctx, []string{" , "}, 0), node.ErrNoKeywords)
}

func TestUploadFile(t *testing.T) {
	client, backend := newClient(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("shared content"), 0o644))

	require.NoError(t, client.UploadFile(context.Background(), path))

	posts := backend.Requests(http.MethodPost, "/uploadFile")
	require.Len(t, posts, 1)
	assert.Equal(t, "notes.txt", posts[0].FileName)
	assert.Equal(t, "shared content", string(posts[0].FileData))

	assert.Error(t, client.UploadFile(context.Background(), t.TempDir()))
}

func TestStatusError(t *testing.T) {
	client, backend := newClient(t)
	backend.Fail("/peers", http.StatusInternalServerError)

	_, err := client.Peers(context.Background())
	var statusErr *node.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "/peers", statusErr.Path)
	assert.Contains(t, statusErr.Error(), "forced failure")
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"a":`))
	}))
	t.Cleanup(srv.Close)

	client, err := node.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = client.Peers(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "decode /peers"))
}

func TestRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	client, err := node.NewClient(srv.URL)
	require.NoError(t, err)
	client.SetRequestTimeout(50 * time.Millisecond)

	_, err = client.ID(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
