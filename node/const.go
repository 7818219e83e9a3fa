package node

import "time"

const (
	DefaultBaseURL    = "http://127.0.0.1:8080"
	RequestTimeout    = 5 * time.Second
	UploadTimeout     = 60 * time.Second
	MaxResponseSize   = 4 * 1024 * 1024 // 4 MB
	MaxErrorBodySize  = 512
	MetahashHexLength = 64 // hex-encoded SHA-256
	RequestIDHeader   = "X-Request-ID"
)

// Backend paths.
const (
	PathID              = "/id"
	PathPeers           = "/peers"
	PathContacts        = "/contacts"
	PathMessage         = "/message"
	PathPrivateMsg      = "/privateMsg"
	PathConfirmedRumors = "/confirmedRumors"
	PathSearchResults   = "/searchResults"
	PathSearchFile      = "/searchFile"
	PathDownloadFile    = "/downloadFile"
	PathUploadFile      = "/uploadFile"
	PathRoutes          = "/routes"
	PathNode            = "/node"
)

// Form field names understood by the backend.
const (
	FieldMessage  = "message"
	FieldPeer     = "peer"
	FieldPeerAddr = "peerAddr"
	FieldMetahash = "metahash"
	FieldFilename = "filename"
	FieldKeywords = "keywords"
	FieldBudget   = "budget"
	FieldFile     = "myFile"
)
