// Package nodetest provides an in-memory gossiper web API for tests.
package nodetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/udisondev/peerview/node"
)

// Request is a request recorded by the fake backend.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Form     url.Values
	FileName string
	FileData []byte
}

// Backend mimics the web API of a gossiper node. Lists are served as JSON
// arrays and mappings as JSON objects, the way the node does it.
type Backend struct {
	Server *httptest.Server

	mu        sync.Mutex
	name      string
	peers     []string
	contacts  map[string]string
	rumors    []node.RumorMessage
	private   map[string][]node.PrivateMessage
	confirmed []node.ConfirmedRumor
	results   map[string]string
	failures  map[string]int
	threads   map[string]int
	requests  []Request
}

func New(name string) *Backend {
	b := &Backend{
		name:     name,
		contacts: make(map[string]string),
		private:  make(map[string][]node.PrivateMessage),
		results:  make(map[string]string),
		failures: make(map[string]int),
		threads:  make(map[string]int),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) Close() {
	b.Server.Close()
}

func (b *Backend) AddPeer(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers = append(b.peers, addr)
}

func (b *Backend) AddContact(name, via string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contacts[name] = via
}

func (b *Backend) AddRumor(origin, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addRumorLocked(origin, text)
}

func (b *Backend) AddPrivate(peer, origin, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.private[peer] = append(b.private[peer], node.PrivateMessage{Origin: origin, Text: text})
}

func (b *Backend) AddConfirmed(origin, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmed = append(b.confirmed, node.ConfirmedRumor{
		Origin:  origin,
		TxBlock: node.TxBlock{Transaction: node.Transaction{Name: name}},
	})
}

func (b *Backend) AddSearchResult(metahash, filename string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[metahash] = filename
}

// Fail makes every request to path answer with code until Fail(path, 0).
func (b *Backend) Fail(path string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code == 0 {
		delete(b.failures, path)
		return
	}
	b.failures[path] = code
}

// FailThread makes reads of the private thread with peer answer with code
// until FailThread(peer, 0).
func (b *Backend) FailThread(peer string, code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code == 0 {
		delete(b.threads, peer)
		return
	}
	b.threads[peer] = code
}

// Requests returns the recorded requests, optionally filtered by method and path.
func (b *Backend) Requests(method, path string) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Request
	for _, r := range b.requests {
		if method != "" && r.Method != method {
			continue
		}
		if path != "" && r.Path != path {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (b *Backend) ResetRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = nil
}

func (b *Backend) addRumorLocked(origin, text string) {
	var next uint32 = 1
	for _, r := range b.rumors {
		if r.Origin == origin && r.ID >= next {
			next = r.ID + 1
		}
	}
	b.rumors = append(b.rumors, node.RumorMessage{ID: next, Origin: origin, Text: text})
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	rec := Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
	}

	if r.Method == http.MethodPost {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if file, header, err := r.FormFile(node.FieldFile); err == nil {
				rec.FileName = header.Filename
				rec.FileData, _ = io.ReadAll(file)
				file.Close()
			}
		} else if err := r.ParseForm(); err == nil {
			rec.Form = r.PostForm
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, rec)

	if code, ok := b.failures[r.URL.Path]; ok {
		http.Error(w, "forced failure", code)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == node.PathPrivateMsg {
		if code, ok := b.threads[r.URL.Query().Get(node.FieldPeer)]; ok {
			http.Error(w, "forced failure", code)
			return
		}
	}

	switch r.Method {
	case http.MethodGet:
		b.serveGet(w, r)
	case http.MethodPost:
		b.servePost(w, r, rec)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (b *Backend) serveGet(w http.ResponseWriter, r *http.Request) {
	var v any
	switch r.URL.Path {
	case node.PathID:
		v = b.name
	case node.PathPeers:
		peers := append([]string{}, b.peers...)
		v = peers
	case node.PathContacts:
		v = b.contacts
	case node.PathMessage:
		v = b.rumors
	case node.PathPrivateMsg:
		v = b.private[r.URL.Query().Get(node.FieldPeer)]
	case node.PathConfirmedRumors:
		v = b.confirmed
	case node.PathSearchResults:
		v = b.results
	case node.PathRoutes:
		routes := make([]string, 0, len(b.contacts))
		for name := range b.contacts {
			routes = append(routes, name)
		}
		sort.Strings(routes)
		v = routes
	case node.PathNode:
		v = map[string]string{"name": b.name}
	default:
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (b *Backend) servePost(w http.ResponseWriter, r *http.Request, rec Request) {
	switch r.URL.Path {
	case node.PathMessage:
		b.addRumorLocked(b.name, rec.Form.Get(node.FieldMessage))
	case node.PathPrivateMsg:
		peer := rec.Form.Get(node.FieldPeer)
		b.private[peer] = append(b.private[peer], node.PrivateMessage{
			Origin: b.name,
			Text:   rec.Form.Get(node.FieldMessage),
		})
	case node.PathPeers:
		b.peers = append(b.peers, rec.Form.Get(node.FieldPeerAddr))
	case node.PathSearchFile, node.PathDownloadFile, node.PathUploadFile:
	default:
		http.NotFound(w, r)
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}
