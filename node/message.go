package node

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

type RumorMessage struct {
	ID     uint32
	Origin string
	Text   string
}

type PrivateMessage struct {
	Origin string
	Text   string
}

type Transaction struct {
	Name string
}

type TxBlock struct {
	Transaction Transaction
}

// ConfirmedRumor is a rumor whose transaction reached consensus on the node.
type ConfirmedRumor struct {
	Origin  string
	TxBlock TxBlock
}

// DownloadRequest asks the node to fetch a file. Peer may be empty when the
// file was found through a search, the node then picks the sources itself.
type DownloadRequest struct {
	Metahash string
	Filename string
	Peer     string
}

var (
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrEmptyPeer       = errors.New("peer is empty")
	ErrInvalidMetahash = errors.New("metahash must be 64 hex characters")
	ErrEmptyFilename   = errors.New("filename is empty")
	ErrNoKeywords      = errors.New("no search keywords")
)

func (r DownloadRequest) Validate() error {
	if len(r.Metahash) != MetahashHexLength {
		return ErrInvalidMetahash
	}
	if _, err := hex.DecodeString(r.Metahash); err != nil {
		return ErrInvalidMetahash
	}
	if strings.TrimSpace(r.Filename) == "" {
		return ErrEmptyFilename
	}
	return nil
}

// StatusError is returned when the node answers with an unexpected status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: %s: %s", e.Method, e.Path, e.Status, e.Body)
}
