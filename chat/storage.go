package chat

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/udisondev/peerview/node"
)

// Security limits
const (
	MaxMessageSize  = 10 * 1024 * 1024 // 10 MB - maximum message size
	MaxContactName  = 256              // Maximum contact name length
	MaxContactCount = 10000            // Maximum number of contacts
)

// Storage keeps the history of everything the node has shown us
type Storage struct {
	db *sql.DB
}

// Contact is an origin the node knows a route to
type Contact struct {
	Name     string
	Via      string
	AddedAt  time.Time
	LastSeen time.Time
}

// Message is a rumor or a private message kept in history
type Message struct {
	ID        int64
	Thread    string // PublicThread for rumors, the peer name for private messages
	Origin    string
	Text      string
	RumorID   uint32
	Timestamp time.Time
	IsRead    bool
}

// SearchResult is a history message matching a search query
type SearchResult struct {
	Message
}

// PublicThread is the thread name of the rumor feed.
const PublicThread = ""

// NewStorage creates a new storage
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		name TEXT PRIMARY KEY,
		via TEXT NOT NULL,
		added_at INTEGER NOT NULL,
		last_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rumors (
		origin TEXT NOT NULL,
		rumor_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY(origin, rumor_id)
	);

	CREATE TABLE IF NOT EXISTS private_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		peer TEXT NOT NULL,
		seq INTEGER NOT NULL,
		origin TEXT NOT NULL,
		text TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		UNIQUE(peer, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_private_unread
	ON private_messages(peer, is_read) WHERE is_read = 0;

	CREATE TABLE IF NOT EXISTS search_hits (
		metahash TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		first_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transfers (
		transfer_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		file_name TEXT NOT NULL,
		metahash TEXT,
		peer TEXT,
		status TEXT NOT NULL,
		error TEXT,
		requested_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_requested
	ON transfers(requested_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// UpsertContact records a contact and refreshes its route
func (s *Storage) UpsertContact(name, via string) error {
	if len(name) == 0 {
		return fmt.Errorf("contact name cannot be empty")
	}
	if len(name) > MaxContactName {
		return fmt.Errorf("contact name too long: %d bytes (max %d)", len(name), MaxContactName)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count); err != nil {
		return fmt.Errorf("check contact count: %w", err)
	}
	if count >= MaxContactCount {
		var exists int
		s.db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE name = ?`, name).Scan(&exists)
		if exists == 0 {
			return fmt.Errorf("contact limit reached: %d (max %d)", count, MaxContactCount)
		}
	}

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO contacts (name, via, added_at, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET via = excluded.via, last_seen = excluded.last_seen
	`, name, via, now, now)

	return err
}

// GetAllContacts returns all contacts, most recently seen first
func (s *Storage) GetAllContacts() ([]*Contact, error) {
	rows, err := s.db.Query(`
		SELECT name, via, added_at, last_seen
		FROM contacts
		ORDER BY last_seen DESC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var contact Contact
		var addedAt, lastSeen int64

		if err := rows.Scan(&contact.Name, &contact.Via, &addedAt, &lastSeen); err != nil {
			return nil, err
		}

		contact.AddedAt = time.Unix(addedAt, 0)
		contact.LastSeen = time.Unix(lastSeen, 0)
		contacts = append(contacts, &contact)
	}

	return contacts, rows.Err()
}

func validateText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message content cannot be empty")
	}
	if len(text) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(text), MaxMessageSize)
	}
	return nil
}

// SaveRumor stores a rumor and reports whether it was new
func (s *Storage) SaveRumor(r node.RumorMessage) (bool, error) {
	if err := validateText(r.Text); err != nil {
		return false, err
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO rumors (origin, rumor_id, text, timestamp)
		VALUES (?, ?, ?, ?)
	`, r.Origin, r.ID, r.Text, time.Now().Unix())
	if err != nil {
		return false, err
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// GetRumors returns the latest rumors, oldest first
func (s *Storage) GetRumors(limit int) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT rowid, origin, rumor_id, text, timestamp
		FROM rumors
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var timestamp int64

		if err := rows.Scan(&msg.ID, &msg.Origin, &msg.RumorID, &msg.Text, &timestamp); err != nil {
			return nil, err
		}
		msg.Thread = PublicThread
		msg.Timestamp = time.Unix(timestamp, 0)
		msg.IsRead = true
		messages = append(messages, &msg)
	}

	reverse(messages)
	return messages, rows.Err()
}

// SavePrivate stores the message at position seq of the thread with peer
// and reports whether it was new
func (s *Storage) SavePrivate(peer string, seq int, m node.PrivateMessage, isRead bool) (bool, error) {
	if err := validateText(m.Text); err != nil {
		return false, err
	}

	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO private_messages (peer, seq, origin, text, timestamp, is_read)
		VALUES (?, ?, ?, ?, ?, ?)
	`, peer, seq, m.Origin, m.Text, time.Now().Unix(), isRead)
	if err != nil {
		return false, err
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// GetPrivate returns the latest messages of a thread, oldest first
func (s *Storage) GetPrivate(peer string, limit int) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, origin, text, timestamp, is_read
		FROM private_messages
		WHERE peer = ?
		ORDER BY seq DESC
		LIMIT ?
	`, peer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var timestamp int64
		var isRead int

		if err := rows.Scan(&msg.ID, &msg.Origin, &msg.Text, &timestamp, &isRead); err != nil {
			return nil, err
		}
		msg.Thread = peer
		msg.Timestamp = time.Unix(timestamp, 0)
		msg.IsRead = isRead != 0
		messages = append(messages, &msg)
	}

	reverse(messages)
	return messages, rows.Err()
}

// MarkAsRead marks every message of the thread with peer as read
func (s *Storage) MarkAsRead(peer string) error {
	_, err := s.db.Exec(`
		UPDATE private_messages SET is_read = 1
		WHERE peer = ? AND is_read = 0
	`, peer)
	return err
}

// GetUnreadCount returns the number of unread messages from peer
func (s *Storage) GetUnreadCount(peer string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM private_messages
		WHERE peer = ? AND is_read = 0
	`, peer).Scan(&count)

	return count, err
}

// SaveSearchHit records a downloadable search match and reports whether it was new
func (s *Storage) SaveSearchHit(metahash, fileName string) (bool, error) {
	result, err := s.db.Exec(`
		INSERT OR IGNORE INTO search_hits (metahash, file_name, first_seen)
		VALUES (?, ?, ?)
	`, metahash, fileName, time.Now().Unix())
	if err != nil {
		return false, err
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// SearchMessages searches rumors and private messages containing query
func (s *Storage) SearchMessages(query string, limit int) ([]*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.Query(`
		SELECT id, thread, origin, text, timestamp FROM (
			SELECT rowid AS id, '' AS thread, origin, text, timestamp
			FROM rumors WHERE text LIKE ? ESCAPE '\'
			UNION ALL
			SELECT id, peer AS thread, origin, text, timestamp
			FROM private_messages WHERE text LIKE ? ESCAPE '\'
		)
		ORDER BY timestamp DESC
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var r SearchResult
		var timestamp int64

		if err := rows.Scan(&r.ID, &r.Thread, &r.Origin, &r.Text, &timestamp); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(timestamp, 0)
		results = append(results, &r)
	}

	return results, rows.Err()
}

// SaveTransfer records an upload or download request
func (s *Storage) SaveTransfer(t *Transfer) error {
	_, err := s.db.Exec(`
		INSERT INTO transfers (transfer_id, kind, file_name, metahash, peer, status, error, requested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error
	`, t.ID, string(t.Kind), t.FileName, t.Metahash, t.Peer, string(t.Status), t.Error, t.RequestedAt.Unix())

	return err
}

// UpdateTransferStatus updates the status of a transfer
func (s *Storage) UpdateTransferStatus(transferID string, status TransferStatus, errText string) error {
	_, err := s.db.Exec(`
		UPDATE transfers SET status = ?, error = ?
		WHERE transfer_id = ?
	`, string(status), errText, transferID)
	return err
}

// GetTransfers returns the latest transfers, newest first
func (s *Storage) GetTransfers(limit int) ([]*Transfer, error) {
	rows, err := s.db.Query(`
		SELECT transfer_id, kind, file_name, metahash, peer, status, error, requested_at
		FROM transfers
		ORDER BY requested_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*Transfer
	for rows.Next() {
		var t Transfer
		var kind, status string
		var metahash, peer, errText sql.NullString
		var requestedAt int64

		if err := rows.Scan(&t.ID, &kind, &t.FileName, &metahash, &peer, &status, &errText, &requestedAt); err != nil {
			return nil, err
		}

		t.Kind = TransferKind(kind)
		t.Status = TransferStatus(status)
		t.Metahash = metahash.String
		t.Peer = peer.String
		t.Error = errText.String
		t.RequestedAt = time.Unix(requestedAt, 0)
		transfers = append(transfers, &t)
	}

	return transfers, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func reverse[T any](items []T) {
	for i := 0; i < len(items)/2; i++ {
		j := len(items) - 1 - i
		items[i], items[j] = items[j], items[i]
	}
}
