package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/udisondev/peerview/chat"
	"github.com/udisondev/peerview/node"
)

const (
	flashCookie       = "peerview_flash"
	maxFlashLength    = 512
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	multipartMemory   = 32 << 20
)

// Page is the data every full page shares
type Page struct {
	Title     string
	Flash     string
	Stale     string
	UpdatedAt string
	Refresh   int
}

type IndexPage struct {
	Page
	Snapshot chat.Snapshot
}

type PrivatePage struct {
	Page
	Peer   string
	Thread node.Keyed[node.PrivateMessage]
}

// Server serves the node views as HTML pages and forwards form posts to the node
type Server struct {
	chat      *chat.Chat
	render    *Renderer
	uploadDir string
}

// NewServer creates a page server. Uploaded files are staged under uploadDir
// until the node has received them.
func NewServer(c *chat.Chat, uploadDir string) (*Server, error) {
	render, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	if err := os.MkdirAll(uploadDir, 0o700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	return &Server{chat: c, render: render, uploadDir: uploadDir}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /private", s.handlePrivatePage)
	mux.HandleFunc("GET /fragments/{view}", s.handleFragment)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("POST /private", s.handlePrivateMessage)
	mux.HandleFunc("POST /peers", s.handleAddPeer)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /download", s.handleDownload)
	return logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info("Web UI listening", "addr", "http://"+lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down web UI")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) page(w http.ResponseWriter, r *http.Request, title string, snap chat.Snapshot) Page {
	refresh := int(s.chat.Interval() / time.Second)
	w.Header().Set("Refresh", strconv.Itoa(refresh))

	updated := "never"
	if !snap.UpdatedAt.IsZero() {
		updated = snap.UpdatedAt.Format("15:04:05")
	}

	return Page{
		Title:     title,
		Flash:     takeFlash(w, r),
		Stale:     strings.Join(snap.StaleViews(), ", "),
		UpdatedAt: updated,
		Refresh:   refresh,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.chat.Snapshot()
	data := IndexPage{
		Page:     s.page(w, r, "Peerster", snap),
		Snapshot: snap,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.render.Index(w, data); err != nil {
		slog.Error("Failed to render page", "page", "index", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func (s *Server) handlePrivatePage(w http.ResponseWriter, r *http.Request) {
	peer := r.URL.Query().Get(node.FieldPeer)
	if peer == "" {
		http.Error(w, "missing peer", http.StatusBadRequest)
		return
	}

	thread, err := s.chat.PrivateThread(r.Context(), peer)
	if err != nil {
		slog.Debug("Serving last known private thread", "peer", peer, "error", err)
	}
	snap := s.chat.Snapshot()
	data := PrivatePage{
		Page:   s.page(w, r, "Private chat with "+peer, snap),
		Peer:   peer,
		Thread: thread,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.render.PrivatePage(w, data); err != nil {
		slog.Error("Failed to render page", "page", "private", "peer", peer, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	snap := s.chat.Snapshot()

	var err error
	switch chat.View(r.PathValue("view")) {
	case chat.ViewPeers:
		err = s.render.Peers(w, snap.Peers)
	case chat.ViewContacts:
		err = s.render.Contacts(w, snap.Contacts)
	case chat.ViewRumors:
		err = s.render.Rumors(w, snap.Rumors)
	case chat.ViewConfirmed:
		err = s.render.Confirmed(w, snap.Confirmed)
	case chat.ViewSearch:
		err = s.render.SearchResults(w, snap.SearchResults)
	case chat.ViewPrivate:
		peer := r.URL.Query().Get(node.FieldPeer)
		if peer == "" {
			http.Error(w, "missing peer", http.StatusBadRequest)
			return
		}
		thread, fetchErr := s.chat.PrivateThread(r.Context(), peer)
		if fetchErr != nil {
			slog.Debug("Serving last known private thread", "peer", peer, "error", fetchErr)
		}
		err = s.render.Private(w, thread)
	default:
		http.NotFound(w, r)
		return
	}

	if err != nil {
		slog.Error("Failed to render fragment", "view", r.PathValue("view"), "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "/", "Send message", func(ctx context.Context) error {
		return s.chat.SendMessage(ctx, r.PostFormValue(node.FieldMessage))
	})
}

func (s *Server) handlePrivateMessage(w http.ResponseWriter, r *http.Request) {
	peer := r.URL.Query().Get(node.FieldPeer)
	if peer == "" {
		peer = r.PostFormValue(node.FieldPeer)
	}

	back := "/"
	if peer != "" {
		back = "/private?" + url.Values{node.FieldPeer: {peer}}.Encode()
	}
	s.submit(w, r, back, "Send private message", func(ctx context.Context) error {
		return s.chat.SendPrivate(ctx, peer, r.PostFormValue(node.FieldMessage))
	})
}

func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "/", "Add peer", func(ctx context.Context) error {
		return s.chat.AddPeer(ctx, r.PostFormValue(node.FieldPeerAddr))
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "/", "Search", func(ctx context.Context) error {
		budget, err := chat.ParseBudget(r.PostFormValue(node.FieldBudget))
		if err != nil {
			return err
		}
		keywords := strings.Split(r.PostFormValue(node.FieldKeywords), ",")
		return s.chat.SearchFiles(ctx, keywords, budget)
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "/", "Download", func(ctx context.Context) error {
		req := node.DownloadRequest{
			Metahash: strings.TrimSpace(r.PostFormValue(node.FieldMetahash)),
			Filename: strings.TrimSpace(r.PostFormValue(node.FieldFilename)),
			Peer:     r.PostFormValue(node.FieldPeer),
		}
		_, err := s.chat.DownloadFile(ctx, req)
		return err
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, chat.MaxFileSize+multipartMemory)

	s.submit(w, r, "/", "Upload", func(ctx context.Context) error {
		path, cleanup, err := s.stageUpload(r)
		if err != nil {
			return err
		}
		defer cleanup()

		_, err = s.chat.UploadFile(ctx, path)
		return err
	})
}

// stageUpload writes the posted file to a private directory, keeping its name
func (s *Server) stageUpload(r *http.Request) (string, func(), error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	file, header, err := r.FormFile(node.FieldFile)
	if err != nil {
		return "", nil, fmt.Errorf("no file chosen")
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if err := chat.ValidateFileName(name); err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp(s.uploadDir, "upload-")
	if err != nil {
		return "", nil, fmt.Errorf("stage upload: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stage upload: %w", err)
	}
	_, err = io.Copy(out, file)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stage upload: %w", err)
	}

	return path, cleanup, nil
}

// submit runs one node submission and redirects back. Failures become a
// flash message shown by the next page.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, back, action string, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		slog.Warn("Submission failed", "action", action, "error", err)
		setFlash(w, fmt.Sprintf("%s failed: %v", action, err))
	} else {
		slog.Debug("Submission done", "action", action)
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

func setFlash(w http.ResponseWriter, msg string) {
	if len(msg) > maxFlashLength {
		msg = msg[:maxFlashLength]
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func takeFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return msg
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "elapsed", time.Since(start))
	})
}
