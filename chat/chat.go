package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/peerview/node"
)

const (
	MinRefreshInterval     = 1 * time.Second
	MaxRefreshInterval     = 10 * time.Second
	DefaultRefreshInterval = 5 * time.Second
	eventBufferSize        = 100

	// A thread opened on demand stops being polled after this long without
	// interest. Contact threads are renewed by every contacts refresh.
	watchIdleTimeout = 10 * time.Minute
)

var ErrNotRetryable = errors.New("only failed downloads can be retried")

// Backend is the node API the chat polls and submits to
type Backend interface {
	ID(ctx context.Context) (string, error)
	Peers(ctx context.Context) (node.Keyed[string], error)
	Contacts(ctx context.Context) (node.Keyed[string], error)
	Rumors(ctx context.Context) (node.Keyed[node.RumorMessage], error)
	PrivateMessages(ctx context.Context, peer string) (node.Keyed[node.PrivateMessage], error)
	ConfirmedRumors(ctx context.Context) (node.Keyed[node.ConfirmedRumor], error)
	SearchResults(ctx context.Context) (node.Keyed[string], error)

	SendMessage(ctx context.Context, text string) error
	SendPrivate(ctx context.Context, peer, text string) error
	AddPeer(ctx context.Context, addr string) error
	SearchFiles(ctx context.Context, keywords []string, budget uint64) error
	UploadFile(ctx context.Context, path string) error
	DownloadFile(ctx context.Context, req node.DownloadRequest) error
}

// View names one polled list
type View string

const (
	ViewIdentity  View = "id"
	ViewPeers     View = "peers"
	ViewContacts  View = "contacts"
	ViewRumors    View = "messages"
	ViewConfirmed View = "confirmed"
	ViewSearch    View = "search"
	ViewPrivate   View = "private"
)

// Snapshot is the latest data of every view. Slices are replaced on every
// refresh, never modified in place, so a Snapshot may be read freely.
type Snapshot struct {
	ID            string
	Peers         node.Keyed[string]
	Contacts      node.Keyed[string]
	Rumors        node.Keyed[node.RumorMessage]
	Confirmed     node.Keyed[node.ConfirmedRumor]
	SearchResults node.Keyed[string]
	Private       map[string]node.Keyed[node.PrivateMessage]
	Errors        map[View]error
	PrivateErrors map[string]error
	UpdatedAt     time.Time
}

// ChatEvent represents a chat event
type ChatEvent struct {
	Type     ChatEventType
	View     View
	Peer     string
	Rumor    *node.RumorMessage
	Private  *node.PrivateMessage
	Transfer *Transfer
	Error    error
}

// ChatEventType defines chat event type
type ChatEventType uint8

const (
	ChatEventViewUpdated ChatEventType = iota
	ChatEventRumorReceived
	ChatEventPrivateReceived
	ChatEventMessageSent
	ChatEventPeerAdded
	ChatEventSearchStarted
	ChatEventTransferRequested
	ChatEventTransferFailed
	ChatEventError
)

type Option func(*Chat)

// WithInterval sets the refresh interval, clamped to [MinRefreshInterval, MaxRefreshInterval]
func WithInterval(d time.Duration) Option {
	return func(c *Chat) {
		c.interval = ClampInterval(d)
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Chat) {
		c.notifier = n
	}
}

type Chat struct {
	backend  Backend
	storage  *Storage
	notifier Notifier
	interval time.Duration
	events   chan ChatEvent

	mu      sync.RWMutex
	snap    Snapshot
	watched map[string]time.Time

	// threads fetched before the own ID was known, not yet stored
	unclassified map[string]struct{}
	now          func() time.Time
}

// NewChat creates a new chat instance. storage may be nil, history is then not kept.
func NewChat(backend Backend, storage *Storage, opts ...Option) *Chat {
	slog.Info("Creating chat instance")

	c := &Chat{
		backend:  backend,
		storage:  storage,
		notifier: nopNotifier{},
		interval: DefaultRefreshInterval,
		events:   make(chan ChatEvent, eventBufferSize),
		snap: Snapshot{
			Private:       make(map[string]node.Keyed[node.PrivateMessage]),
			Errors:        make(map[View]error),
			PrivateErrors: make(map[string]error),
		},
		watched:      make(map[string]time.Time),
		unclassified: make(map[string]struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ClampInterval keeps a refresh interval inside the supported range
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultRefreshInterval
	case d < MinRefreshInterval:
		return MinRefreshInterval
	case d > MaxRefreshInterval:
		return MaxRefreshInterval
	}
	return d
}

func (c *Chat) Interval() time.Duration {
	return c.interval
}

// Events returns chat events channel
func (c *Chat) Events() <-chan ChatEvent {
	return c.events
}

func (c *Chat) emit(event ChatEvent) {
	select {
	case c.events <- event:
	default:
		slog.Debug("Dropping chat event, no reader", "type", event.Type, "view", event.View)
	}
}

// Run refreshes every view now and then on every tick until ctx is done
func (c *Chat) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	slog.Info("Polling node", "interval", c.interval)
	c.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Polling stopped")
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh fetches every view once. A failing view keeps its previous data,
// the returned error joins the failures.
func (c *Chat) Refresh(ctx context.Context) error {
	errs := []error{
		c.refreshIdentity(ctx),
		c.refreshPeers(ctx),
		c.refreshContacts(ctx),
		c.refreshRumors(ctx),
		c.refreshConfirmed(ctx),
		c.refreshSearch(ctx),
	}
	for _, peer := range c.watchedPeers() {
		errs = append(errs, c.refreshPrivate(ctx, peer))
	}

	c.mu.Lock()
	c.snap.UpdatedAt = time.Now()
	c.mu.Unlock()

	return errors.Join(errs...)
}

// Snapshot returns a copy of the latest data
func (c *Chat) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.snap
	s.Private = maps.Clone(c.snap.Private)
	s.Errors = maps.Clone(c.snap.Errors)
	s.PrivateErrors = maps.Clone(c.snap.PrivateErrors)
	return s
}

// StaleViews lists, sorted, the views whose last refresh failed. Each failing
// private thread is listed on its own.
func (s Snapshot) StaleViews() []string {
	names := make([]string, 0, len(s.Errors)+len(s.PrivateErrors))
	for view := range s.Errors {
		names = append(names, string(view))
	}
	for peer := range s.PrivateErrors {
		names = append(names, string(ViewPrivate)+" with "+peer)
	}
	slices.Sort(names)
	return names
}

// Watch adds peer to the private threads refreshed on every tick, or renews
// interest in it. Threads not renewed for watchIdleTimeout are dropped.
func (c *Chat) Watch(peer string) {
	if peer == "" {
		return
	}
	c.mu.Lock()
	c.watched[peer] = c.now()
	c.mu.Unlock()
}

func (c *Chat) Unwatch(peer string) {
	c.mu.Lock()
	c.unwatchLocked(peer)
	c.mu.Unlock()
}

func (c *Chat) unwatchLocked(peer string) {
	delete(c.watched, peer)
	delete(c.snap.PrivateErrors, peer)
	delete(c.unclassified, peer)
}

// watchedPeers drops idle threads and returns the rest, sorted
func (c *Chat) watchedPeers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := c.now().Add(-watchIdleTimeout)
	for peer, last := range c.watched {
		if last.Before(deadline) {
			slog.Debug("Private thread idle, no longer polled", "peer", peer)
			c.unwatchLocked(peer)
		}
	}
	return slices.Sorted(maps.Keys(c.watched))
}

func (c *Chat) refreshIdentity(ctx context.Context) error {
	id, err := c.backend.ID(ctx)
	_, err = updateView(c, ViewIdentity, id, err, func(s *Snapshot) *string { return &s.ID })
	return err
}

func (c *Chat) refreshPeers(ctx context.Context) error {
	peers, err := c.backend.Peers(ctx)
	_, err = updateView(c, ViewPeers, peers, err, func(s *Snapshot) *node.Keyed[string] { return &s.Peers })
	return err
}

func (c *Chat) refreshContacts(ctx context.Context) error {
	contacts, err := c.backend.Contacts(ctx)
	changed, err := updateView(c, ViewContacts, contacts, err, func(s *Snapshot) *node.Keyed[string] { return &s.Contacts })
	if err != nil {
		return err
	}

	// Threads of every contact are polled so new private messages are noticed
	// before the user opens them.
	c.mu.RLock()
	myID := c.snap.ID
	c.mu.RUnlock()
	for _, e := range contacts {
		if e.Key != myID {
			c.Watch(e.Key)
		}
	}

	if !changed || c.storage == nil {
		return nil
	}

	for _, e := range contacts {
		if err := c.storage.UpsertContact(e.Key, e.Value); err != nil {
			slog.Warn("Failed to store contact", "name", e.Key, "error", err)
		}
	}
	return nil
}

func (c *Chat) refreshRumors(ctx context.Context) error {
	rumors, err := c.backend.Rumors(ctx)
	changed, err := updateView(c, ViewRumors, rumors, err, func(s *Snapshot) *node.Keyed[node.RumorMessage] { return &s.Rumors })
	if err != nil || !changed || c.storage == nil {
		return err
	}

	for _, e := range rumors {
		rumor := e.Value
		if strings.TrimSpace(rumor.Text) == "" {
			// route rumors carry no text
			continue
		}
		isNew, err := c.storage.SaveRumor(rumor)
		if err != nil {
			slog.Warn("Failed to store rumor", "origin", rumor.Origin, "id", rumor.ID, "error", err)
			continue
		}
		if isNew {
			c.emit(ChatEvent{Type: ChatEventRumorReceived, View: ViewRumors, Peer: rumor.Origin, Rumor: &rumor})
		}
	}
	return nil
}

func (c *Chat) refreshConfirmed(ctx context.Context) error {
	confirmed, err := c.backend.ConfirmedRumors(ctx)
	_, err = updateView(c, ViewConfirmed, confirmed, err, func(s *Snapshot) *node.Keyed[node.ConfirmedRumor] { return &s.Confirmed })
	return err
}

func (c *Chat) refreshSearch(ctx context.Context) error {
	results, err := c.backend.SearchResults(ctx)
	changed, err := updateView(c, ViewSearch, results, err, func(s *Snapshot) *node.Keyed[string] { return &s.SearchResults })
	if err != nil || !changed || c.storage == nil {
		return err
	}

	for _, e := range results {
		if _, err := c.storage.SaveSearchHit(e.Key, e.Value); err != nil {
			slog.Warn("Failed to store search hit", "metahash", e.Key, "error", err)
		}
	}
	return nil
}

func (c *Chat) refreshPrivate(ctx context.Context, peer string) error {
	thread, err := c.backend.PrivateMessages(ctx, peer)
	if err != nil {
		slog.Warn("Failed to refresh private thread", "peer", peer, "error", err)
		c.mu.Lock()
		c.snap.PrivateErrors[peer] = err
		c.mu.Unlock()
		c.emit(ChatEvent{Type: ChatEventError, View: ViewPrivate, Peer: peer, Error: err})
		return fmt.Errorf("refresh private thread with %s: %w", peer, err)
	}

	c.mu.Lock()
	previous, seen := c.snap.Private[peer]
	changed := !sameValue(previous, thread)
	c.snap.Private[peer] = thread
	delete(c.snap.PrivateErrors, peer)
	myID := c.snap.ID
	_, pending := c.unclassified[peer]
	if myID == "" {
		c.unclassified[peer] = struct{}{}
	} else {
		delete(c.unclassified, peer)
	}
	c.mu.Unlock()

	if changed {
		c.emit(ChatEvent{Type: ChatEventViewUpdated, View: ViewPrivate, Peer: peer})
	}

	// Without the own ID outgoing messages cannot be told apart, storing
	// waits for a refresh that knows it.
	if c.storage == nil || myID == "" || !(changed || pending) {
		return nil
	}
	// Threads loaded for the first time only fill history.
	announce := seen && !pending
	for i, e := range thread {
		msg := e.Value
		outgoing := msg.Origin == myID
		isNew, err := c.storage.SavePrivate(peer, i, msg, outgoing)
		if err != nil {
			slog.Warn("Failed to store private message", "peer", peer, "error", err)
			continue
		}
		if isNew && announce && !outgoing {
			c.emit(ChatEvent{Type: ChatEventPrivateReceived, View: ViewPrivate, Peer: peer, Private: &msg})
			if err := c.notifier.Notify("Message from "+msg.Origin, msg.Text); err != nil {
				slog.Debug("Notification failed", "error", err)
			}
		}
	}
	return nil
}

// updateView stores a fetched view in the snapshot and reports whether it changed
func updateView[T any](c *Chat, view View, fetched T, fetchErr error, field func(*Snapshot) *T) (bool, error) {
	if fetchErr != nil {
		slog.Warn("Failed to refresh view", "view", view, "error", fetchErr)
		c.mu.Lock()
		c.snap.Errors[view] = fetchErr
		c.mu.Unlock()
		c.emit(ChatEvent{Type: ChatEventError, View: view, Error: fetchErr})
		return false, fmt.Errorf("refresh %s: %w", view, fetchErr)
	}

	c.mu.Lock()
	slot := field(&c.snap)
	changed := !sameValue(*slot, fetched)
	*slot = fetched
	delete(c.snap.Errors, view)
	c.mu.Unlock()

	if changed {
		slog.Debug("View updated", "view", view)
		c.emit(ChatEvent{Type: ChatEventViewUpdated, View: view})
	}
	return changed, nil
}

// sameValue treats nil and empty lists as equal
func sameValue(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Slice && vb.Kind() == reflect.Slice && va.Len() == 0 && vb.Len() == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// PrivateThread fetches the thread with peer now and keeps it refreshed.
// On failure the last known thread is returned with the error.
func (c *Chat) PrivateThread(ctx context.Context, peer string) (node.Keyed[node.PrivateMessage], error) {
	if peer == "" {
		return nil, node.ErrEmptyPeer
	}
	c.Watch(peer)
	err := c.refreshPrivate(ctx, peer)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Private[peer], err
}

// SendMessage posts a rumor and refreshes the feed
func (c *Chat) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return node.ErrEmptyMessage
	}
	slog.Debug("Sending message", "length", len(text))

	if err := c.backend.SendMessage(ctx, text); err != nil {
		slog.Error("Failed to send message", "error", err)
		return fmt.Errorf("send message: %w", err)
	}

	c.emit(ChatEvent{Type: ChatEventMessageSent, View: ViewRumors})
	if err := c.refreshRumors(ctx); err != nil {
		slog.Debug("Refresh after send failed", "error", err)
	}
	return nil
}

// SendPrivate sends a private message to peer and refreshes the thread
func (c *Chat) SendPrivate(ctx context.Context, peer, text string) error {
	if peer == "" {
		return node.ErrEmptyPeer
	}
	if strings.TrimSpace(text) == "" {
		return node.ErrEmptyMessage
	}
	slog.Debug("Sending private message", "peer", peer, "length", len(text))
	c.Watch(peer)

	if err := c.backend.SendPrivate(ctx, peer, text); err != nil {
		slog.Error("Failed to send private message", "peer", peer, "error", err)
		return fmt.Errorf("send private message: %w", err)
	}

	c.emit(ChatEvent{Type: ChatEventMessageSent, View: ViewPrivate, Peer: peer})
	if err := c.refreshPrivate(ctx, peer); err != nil {
		slog.Debug("Refresh after private send failed", "peer", peer, "error", err)
	}
	return nil
}

// AddPeer adds a neighbour to the node
func (c *Chat) AddPeer(ctx context.Context, addr string) error {
	addr = strings.TrimSpace(addr)
	slog.Info("Adding peer", "addr", addr)

	if err := c.backend.AddPeer(ctx, addr); err != nil {
		slog.Error("Failed to add peer", "addr", addr, "error", err)
		return fmt.Errorf("add peer: %w", err)
	}

	c.emit(ChatEvent{Type: ChatEventPeerAdded, View: ViewPeers, Peer: addr})
	if err := c.refreshPeers(ctx); err != nil {
		slog.Debug("Refresh after add peer failed", "error", err)
	}
	return nil
}

// SearchFiles starts a search; matches show up in the search view as they arrive
func (c *Chat) SearchFiles(ctx context.Context, keywords []string, budget uint64) error {
	slog.Info("Searching files", "keywords", keywords, "budget", budget)

	if err := c.backend.SearchFiles(ctx, keywords, budget); err != nil {
		slog.Error("Failed to start search", "error", err)
		return fmt.Errorf("search files: %w", err)
	}

	c.emit(ChatEvent{Type: ChatEventSearchStarted, View: ViewSearch})
	if err := c.refreshSearch(ctx); err != nil {
		slog.Debug("Refresh after search failed", "error", err)
	}
	return nil
}

// UploadFile shares a local file through the node
func (c *Chat) UploadFile(ctx context.Context, filePath string) (*Transfer, error) {
	t, err := NewUpload(filePath)
	if err != nil {
		return nil, err
	}
	slog.Info("Uploading file", "file", t.FileName, "transferID", t.ID)

	return t, c.submitTransfer(ctx, t, func(ctx context.Context) error {
		return c.backend.UploadFile(ctx, filePath)
	})
}

// DownloadFile asks the node to download a file
func (c *Chat) DownloadFile(ctx context.Context, req node.DownloadRequest) (*Transfer, error) {
	t, err := NewDownload(req)
	if err != nil {
		return nil, err
	}
	slog.Info("Requesting download", "file", t.FileName, "metahash", t.Metahash, "peer", t.Peer, "transferID", t.ID)

	return t, c.submitTransfer(ctx, t, func(ctx context.Context) error {
		return c.backend.DownloadFile(ctx, req)
	})
}

// RetryDownload asks the node again for a download that failed
func (c *Chat) RetryDownload(ctx context.Context, t *Transfer) error {
	if t == nil || t.Kind != TransferDownload || t.Status != TransferFailed {
		return ErrNotRetryable
	}
	req := t.Request()
	if err := req.Validate(); err != nil {
		return err
	}
	slog.Info("Retrying download", "file", t.FileName, "metahash", t.Metahash, "peer", t.Peer, "transferID", t.ID)

	return c.submitTransfer(ctx, t, func(ctx context.Context) error {
		return c.backend.DownloadFile(ctx, req)
	})
}

func (c *Chat) submitTransfer(ctx context.Context, t *Transfer, submit func(context.Context) error) error {
	if t.Status == TransferFailed {
		c.setTransferStatus(t, TransferPending, "")
	} else {
		c.saveTransfer(t)
	}

	if err := submit(ctx); err != nil {
		slog.Error("Transfer request failed", "kind", t.Kind, "file", t.FileName, "transferID", t.ID, "error", err)
		c.setTransferStatus(t, TransferFailed, err.Error())
		c.emit(ChatEvent{Type: ChatEventTransferFailed, Transfer: t, Error: err})
		return fmt.Errorf("%s %s: %w", t.Kind, t.FileName, err)
	}

	c.setTransferStatus(t, TransferRequested, "")
	c.emit(ChatEvent{Type: ChatEventTransferRequested, Transfer: t})
	return nil
}

func (c *Chat) saveTransfer(t *Transfer) {
	if c.storage == nil {
		return
	}
	if err := c.storage.SaveTransfer(t); err != nil {
		slog.Warn("Failed to store transfer", "transferID", t.ID, "error", err)
	}
}

func (c *Chat) setTransferStatus(t *Transfer, status TransferStatus, errText string) {
	t.Status = status
	t.Error = errText
	if c.storage == nil {
		return
	}
	if err := c.storage.UpdateTransferStatus(t.ID, status, errText); err != nil {
		slog.Warn("Failed to update transfer", "transferID", t.ID, "status", status, "error", err)
	}
}

// History returns stored messages of a thread, PublicThread for rumors
func (c *Chat) History(thread string, limit int) ([]*Message, error) {
	if c.storage == nil {
		return nil, nil
	}
	if thread == PublicThread {
		return c.storage.GetRumors(limit)
	}
	return c.storage.GetPrivate(thread, limit)
}

// SearchMessages searches stored messages across all threads
func (c *Chat) SearchMessages(query string, limit int) ([]*SearchResult, error) {
	if c.storage == nil {
		return nil, nil
	}
	return c.storage.SearchMessages(query, limit)
}

func (c *Chat) Transfers(limit int) ([]*Transfer, error) {
	if c.storage == nil {
		return nil, nil
	}
	return c.storage.GetTransfers(limit)
}

// MarkAsRead marks messages as read
func (c *Chat) MarkAsRead(peer string) error {
	if c.storage == nil {
		return nil
	}
	return c.storage.MarkAsRead(peer)
}

// GetUnreadCount returns the number of unread messages
func (c *Chat) GetUnreadCount(peer string) (int, error) {
	if c.storage == nil {
		return 0, nil
	}
	return c.storage.GetUnreadCount(peer)
}

// Close closes the chat
func (c *Chat) Close() error {
	if c.storage == nil {
		return nil
	}
	return c.storage.Close()
}
