package web

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/peerview/chat"
	"github.com/udisondev/peerview/node"
	"github.com/udisondev/peerview/node/nodetest"
)

type testEnv struct {
	backend *nodetest.Backend
	chat    *chat.Chat
	server  *httptest.Server
	client  *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := nodetest.New("alice")
	t.Cleanup(backend.Close)

	nodeClient, err := node.NewClient(backend.URL())
	require.NoError(t, err)
	c := chat.NewChat(nodeClient, nil, chat.WithInterval(2*time.Second))

	srv, err := NewServer(c, t.TempDir())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		backend: backend,
		chat:    c,
		server:  ts,
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := e.client.PostForm(e.server.URL+path, form)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestIndexRendersSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.backend.AddPeer("1.2.3.4:8080")
	env.backend.AddContact("bob", "1.2.3.4:8080")
	env.backend.AddRumor("bob", "hello from bob")
	require.NoError(t, env.chat.Refresh(context.Background()))

	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Refresh"))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, `<span id="peerID">alice</span>`)
	assert.Contains(t, body, `<li id="0" class="peerItem">1.2.3.4:8080</li>`)
	assert.Contains(t, body, `href="/private?peer=bob"`)
	assert.Contains(t, body, "hello from bob")
	assert.NotContains(t, body, `class="flash"`)
}

func TestSubmitMessagePostsOnceAndRedirects(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/message", url.Values{"message": {"hi all"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	posts := env.backend.Requests(http.MethodPost, node.PathMessage)
	require.Len(t, posts, 1)
	assert.Equal(t, "hi all", posts[0].Form.Get(node.FieldMessage))
	assert.Len(t, env.backend.Requests(http.MethodGet, node.PathMessage), 1)

	_, body := env.get(t, "/fragments/messages")
	assert.Contains(t, body, `<strong>from</strong> alice<br><strong>MESSAGE:</strong> hi all</li>`)
}

func TestFailedSubmissionShowsFlash(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postForm(t, "/message", url.Values{"message": {"  "}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Empty(t, env.backend.Requests(http.MethodPost, node.PathMessage))

	var flash *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == flashCookie {
			flash = c
		}
	}
	require.NotNil(t, flash)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/", nil)
	require.NoError(t, err)
	req.AddCookie(flash)
	page, err := env.client.Do(req)
	require.NoError(t, err)
	defer page.Body.Close()
	body, _ := io.ReadAll(page.Body)

	assert.Contains(t, string(body), `<p class="flash">Send message failed: message text is empty</p>`)
}

func TestPrivatePageAndSubmit(t *testing.T) {
	env := newTestEnv(t)
	env.backend.AddPrivate("bob", "bob", "psst")

	resp, body := env.get(t, "/private?peer=bob")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `<strong>PRIVATE MESSAGE from</strong> bob<br><strong>MESSAGE:</strong> psst`)
	assert.Contains(t, body, `action="/private?peer=bob"`)

	post := env.postForm(t, "/private?peer=bob", url.Values{"peer": {"bob"}, "message": {"hi bob"}})
	assert.Equal(t, http.StatusSeeOther, post.StatusCode)
	assert.Equal(t, "/private?peer=bob", post.Header.Get("Location"))

	posts := env.backend.Requests(http.MethodPost, node.PathPrivateMsg)
	require.Len(t, posts, 1)
	assert.Equal(t, "hi bob", posts[0].Form.Get(node.FieldMessage))

	_, fragment := env.get(t, "/fragments/private?peer=bob")
	assert.Contains(t, fragment, "hi bob")

	resp, _ = env.get(t, "/private")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFragments(t *testing.T) {
	env := newTestEnv(t)
	env.backend.AddPeer("1.2.3.4:8080")
	env.backend.AddConfirmed("bob", "song.mp3")
	env.backend.AddSearchResult(testMetahash, "song.mp3")
	require.NoError(t, env.chat.Refresh(context.Background()))

	_, body := env.get(t, "/fragments/peers")
	assert.Equal(t, `<ul class="peerList"><li id="0" class="peerItem">1.2.3.4:8080</li></ul>`, body)

	_, body = env.get(t, "/fragments/contacts")
	assert.Equal(t, `<ul class="contactList"></ul>`, body)

	_, body = env.get(t, "/fragments/confirmed")
	assert.Contains(t, body, "song.mp3")

	_, body = env.get(t, "/fragments/search")
	assert.Contains(t, body, `class="searchItem"`)

	resp, _ := env.get(t, "/fragments/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddPeerSearchAndDownload(t *testing.T) {
	env := newTestEnv(t)

	env.postForm(t, "/peers", url.Values{"peerAddr": {"10.0.0.1:5000"}})
	require.Len(t, env.backend.Requests(http.MethodPost, node.PathPeers), 1)
	assert.Equal(t, []string{"10.0.0.1:5000"}, env.chat.Snapshot().Peers.Values())

	env.postForm(t, "/search", url.Values{"keywords": {"song,mp3"}, "budget": {"8"}})
	searches := env.backend.Requests(http.MethodPost, node.PathSearchFile)
	require.Len(t, searches, 1)
	assert.Equal(t, "8", searches[0].Form.Get(node.FieldBudget))

	resp := env.postForm(t, "/search", url.Values{"keywords": {"song"}, "budget": {"lots"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Len(t, env.backend.Requests(http.MethodPost, node.PathSearchFile), 1)

	env.postForm(t, "/download", url.Values{"metahash": {testMetahash}, "filename": {"song.mp3"}, "peer": {"bob"}})
	downloads := env.backend.Requests(http.MethodPost, node.PathDownloadFile)
	require.Len(t, downloads, 1)
	assert.Equal(t, "bob", downloads[0].Form.Get(node.FieldPeer))

	env.postForm(t, "/download", url.Values{"metahash": {"short"}, "filename": {"x"}})
	assert.Len(t, env.backend.Requests(http.MethodPost, node.PathDownloadFile), 1)
}

func TestUploadStagesAndForwardsFile(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(node.FieldFile, "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("shared notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := env.client.Post(env.server.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	uploads := env.backend.Requests(http.MethodPost, node.PathUploadFile)
	require.Len(t, uploads, 1)
	assert.Equal(t, "notes.txt", uploads[0].FileName)
	assert.Equal(t, "shared notes", string(uploads[0].FileData))
}

func TestStaleViewBanner(t *testing.T) {
	env := newTestEnv(t)
	env.backend.AddPeer("1.2.3.4:8080")
	require.NoError(t, env.chat.Refresh(context.Background()))

	env.backend.Fail(node.PathPeers, http.StatusServiceUnavailable)
	require.Error(t, env.chat.Refresh(context.Background()))

	_, body := env.get(t, "/")
	assert.Contains(t, body, "showing last data for: peers")
	assert.True(t, strings.Contains(body, "1.2.3.4:8080"))
}

func TestFailingPrivateThreadIsStale(t *testing.T) {
	env := newTestEnv(t)
	env.backend.AddPrivate("bob", "bob", "psst")
	env.backend.FailThread("amy", http.StatusServiceUnavailable)

	_, body := env.get(t, "/private?peer=amy")
	assert.Contains(t, body, "showing last data for: private with amy")

	_, body = env.get(t, "/private?peer=bob")
	assert.Contains(t, body, "psst")
	assert.Contains(t, body, "showing last data for: private with amy")

	env.backend.FailThread("amy", 0)
	_, body = env.get(t, "/private?peer=amy")
	assert.NotContains(t, body, `class="stale"`)
}
