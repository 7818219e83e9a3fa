package chat

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/peerview/node"
)

const MaxFileSize = 200 * 1024 * 1024 // 200 MB

// TransferKind tells uploads from downloads
type TransferKind string

const (
	TransferUpload   TransferKind = "upload"
	TransferDownload TransferKind = "download"
)

// TransferStatus is the state of a transfer request as far as we can see it.
// The node does the chunking, so "requested" is the last state we observe on success.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferRequested TransferStatus = "requested"
	TransferFailed    TransferStatus = "failed"
)

// Transfer is an upload or download handed to the node
type Transfer struct {
	ID          string
	Kind        TransferKind
	FileName    string
	FilePath    string // local path, uploads only
	Metahash    string // downloads only
	Peer        string
	Status      TransferStatus
	Error       string
	RequestedAt time.Time
}

// ValidateFileName checks file name for security
func ValidateFileName(fileName string) error {
	if filepath.Base(fileName) != fileName {
		return fmt.Errorf("invalid file name: path traversal detected")
	}
	if fileName == "" || fileName == "." || fileName == ".." {
		return fmt.Errorf("invalid file name")
	}
	if len(fileName) > 255 {
		return fmt.Errorf("file name too long (max 255 characters)")
	}
	return nil
}

// NewUpload checks a local file and prepares its upload record
func NewUpload(filePath string) (*Transfer, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filePath)
	}
	if fileInfo.Size() > MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", fileInfo.Size(), MaxFileSize)
	}

	fileName := filepath.Base(filePath)
	if err := ValidateFileName(fileName); err != nil {
		return nil, err
	}

	return &Transfer{
		ID:          uuid.NewString(),
		Kind:        TransferUpload,
		FileName:    fileName,
		FilePath:    filePath,
		Status:      TransferPending,
		RequestedAt: time.Now(),
	}, nil
}

// NewDownload validates a download request and prepares its record
func NewDownload(req node.DownloadRequest) (*Transfer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateFileName(req.Filename); err != nil {
		return nil, err
	}

	return &Transfer{
		ID:          uuid.NewString(),
		Kind:        TransferDownload,
		FileName:    req.Filename,
		Metahash:    req.Metahash,
		Peer:        req.Peer,
		Status:      TransferPending,
		RequestedAt: time.Now(),
	}, nil
}

// Request returns the node request for a download record
func (t *Transfer) Request() node.DownloadRequest {
	return node.DownloadRequest{
		Metahash: t.Metahash,
		Filename: t.FileName,
		Peer:     t.Peer,
	}
}
