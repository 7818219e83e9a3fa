package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client talks to the web API of a local gossiper node.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	mu         sync.Mutex
	reqTimeout time.Duration
}

func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid node URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid node URL %q: missing host", baseURL)
	}

	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			// The node answers form posts with a redirect to its own page.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		reqTimeout: RequestTimeout,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

func (c *Client) SetRequestTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.reqTimeout = timeout
	c.mu.Unlock()
}

func (c *Client) requestTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reqTimeout
}

// ID returns the name of the node.
func (c *Client) ID(ctx context.Context) (string, error) {
	data, err := c.get(ctx, PathID, nil)
	if err != nil {
		return "", err
	}

	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		// Older nodes write the bare name.
		return strings.TrimSpace(string(data)), nil
	}
	return id, nil
}

func (c *Client) Peers(ctx context.Context) (Keyed[string], error) {
	var peers Keyed[string]
	err := c.getJSON(ctx, PathPeers, nil, &peers)
	return peers, err
}

// Contacts maps every known origin to the peer it is routed via.
func (c *Client) Contacts(ctx context.Context) (Keyed[string], error) {
	var contacts Keyed[string]
	err := c.getJSON(ctx, PathContacts, nil, &contacts)
	return contacts, err
}

func (c *Client) Rumors(ctx context.Context) (Keyed[RumorMessage], error) {
	var rumors Keyed[RumorMessage]
	err := c.getJSON(ctx, PathMessage, nil, &rumors)
	return rumors, err
}

func (c *Client) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return c.postForm(ctx, PathMessage, nil, url.Values{FieldMessage: {text}})
}

func (c *Client) PrivateMessages(ctx context.Context, peer string) (Keyed[PrivateMessage], error) {
	if peer == "" {
		return nil, ErrEmptyPeer
	}
	var msgs Keyed[PrivateMessage]
	err := c.getJSON(ctx, PathPrivateMsg, url.Values{FieldPeer: {peer}}, &msgs)
	return msgs, err
}

func (c *Client) SendPrivate(ctx context.Context, peer, text string) error {
	if peer == "" {
		return ErrEmptyPeer
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	form := url.Values{
		FieldPeer:    {peer},
		FieldMessage: {text},
	}
	return c.postForm(ctx, PathPrivateMsg, url.Values{FieldPeer: {peer}}, form)
}

func (c *Client) ConfirmedRumors(ctx context.Context) (Keyed[ConfirmedRumor], error) {
	var confirmed Keyed[ConfirmedRumor]
	err := c.getJSON(ctx, PathConfirmedRumors, nil, &confirmed)
	return confirmed, err
}

// SearchResults maps the hex metahash of every downloadable match to its file name.
func (c *Client) SearchResults(ctx context.Context) (Keyed[string], error) {
	var results Keyed[string]
	err := c.getJSON(ctx, PathSearchResults, nil, &results)
	return results, err
}

func (c *Client) DownloadFile(ctx context.Context, req DownloadRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	form := url.Values{
		FieldMetahash: {req.Metahash},
		FieldFilename: {req.Filename},
		FieldPeer:     {req.Peer},
	}
	return c.postForm(ctx, PathDownloadFile, nil, form)
}

func (c *Client) AddPeer(ctx context.Context, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ErrEmptyPeer
	}
	return c.postForm(ctx, PathPeers, nil, url.Values{FieldPeerAddr: {addr}})
}

// SearchFiles starts a file search on the node. A zero budget lets the node
// expand the search on its own.
func (c *Client) SearchFiles(ctx context.Context, keywords []string, budget uint64) error {
	var cleaned []string
	for _, kw := range keywords {
		for _, part := range strings.Split(kw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				cleaned = append(cleaned, part)
			}
		}
	}
	if len(cleaned) == 0 {
		return ErrNoKeywords
	}

	form := url.Values{
		FieldKeywords: {strings.Join(cleaned, ",")},
		FieldBudget:   {strconv.FormatUint(budget, 10)},
	}
	return c.postForm(ctx, PathSearchFile, nil, form)
}

// UploadFile shares a local file through the node.
func (c *Client) UploadFile(ctx context.Context, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(FieldFile, filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	_, err = c.do(ctx, http.MethodPost, PathUploadFile, nil, pr, mw.FormDataContentType())
	pr.Close()
	return err
}

// Routes returns the raw routing table of the node.
func (c *Client) Routes(ctx context.Context) (json.RawMessage, error) {
	data, err := c.get(ctx, PathRoutes, nil)
	return json.RawMessage(data), err
}

// Node returns the raw node description.
func (c *Client) Node(ctx context.Context) (json.RawMessage, error) {
	data, err := c.get(ctx, PathNode, nil)
	return json.RawMessage(data), err
}

func (c *Client) getJSON(ctx context.Context, p string, query url.Values, out any) error {
	data, err := c.get(ctx, p, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, p string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()
	return c.do(ctx, http.MethodGet, p, query, nil, "")
}

func (c *Client) postForm(ctx context.Context, p string, query url.Values, form url.Values) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()
	_, err := c.do(ctx, http.MethodPost, p, query, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	return err
}

func (c *Client) endpoint(p string, query url.Values) string {
	u := *c.baseURL
	u.Path = path.Join("/", u.Path, p)
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, p string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(p, query), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method == http.MethodGet {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("Node request failed", "method", method, "path", p, "reqID", reqID, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	slog.Debug("Node request", "method", method, "path", p, "status", resp.StatusCode,
		"reqID", reqID, "bytes", len(data), "elapsed", time.Since(start))

	if !accepted(method, resp.StatusCode) {
		excerpt := strings.TrimSpace(string(data))
		if len(excerpt) > MaxErrorBodySize {
			excerpt = excerpt[:MaxErrorBodySize] + "..."
		}
		return nil, &StatusError{
			Method: method,
			Path:   p,
			Code:   resp.StatusCode,
			Status: resp.Status,
			Body:   excerpt,
		}
	}
	if readErr != nil {
		return nil, fmt.Errorf("read %s: %w", p, readErr)
	}

	return data, nil
}

// accepted reports whether a status code counts as success. Submissions are
// answered with a redirect, reads must be 2xx.
func accepted(method string, code int) bool {
	if code >= 200 && code < 300 {
		return true
	}
	return method != http.MethodGet && code >= 300 && code < 400
}
