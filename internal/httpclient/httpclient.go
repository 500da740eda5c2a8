// Package httpclient wraps net/http to expose the HTTP lane's two-phase,
// non-blocking-per-call contract: connection_new/connection_iterate/
// connection_done/session_new/update/data/delete/connection_free. Each
// exported method does at most one bounded unit of work and never blocks
// the calling tick beyond that unit.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// GenericUserAgent is used when no custom User-Agent has been configured.
const GenericUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// Client issues requests for the HTTP lane. It wraps a single *http.Client
// tuned for connection reuse, matching the teacher's transport settings.
type Client struct {
	http      *http.Client
	userAgent string
}

// New returns a Client with a connection-reusing transport.
func New(userAgent string) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if userAgent == "" {
		userAgent = GenericUserAgent
	}
	return &Client{
		http:      &http.Client{Transport: transport},
		userAgent: userAgent,
	}
}

// Connection is the pre-body handshake handle: present while the request is
// in flight but headers have not yet been received.
type Connection struct {
	url    string
	cancel context.CancelFunc
	result chan connectResult
	done   bool
	resp   *http.Response
	err    error
}

type connectResult struct {
	resp *http.Response
	err  error
}

// ConnectionNew starts a request to urlStr in the background and returns a
// handle immediately; it never blocks on the network itself.
func (c *Client) ConnectionNew(ctx context.Context, urlStr string) (*Connection, error) {
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("httpclient: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")

	conn := &Connection{url: urlStr, cancel: cancel, result: make(chan connectResult, 1)}
	go func() {
		resp, err := c.http.Do(req)
		conn.result <- connectResult{resp: resp, err: err}
	}()
	return conn, nil
}

// ConnectionIterate polls for the handshake's completion without blocking.
// It reports done once a response (or a terminal error) has arrived.
func (conn *Connection) ConnectionIterate() (done bool) {
	if conn.done {
		return true
	}
	select {
	case r := <-conn.result:
		conn.resp, conn.err = r.resp, r.err
		conn.done = true
		return true
	default:
		return false
	}
}

// ConnectionDone reports whether the connection succeeded (headers received
// without a transport-level error).
func (conn *Connection) ConnectionDone() bool {
	return conn.done && conn.err == nil && conn.resp != nil
}

// Err returns the terminal connection error, if any.
func (conn *Connection) Err() error {
	return conn.err
}

// ConnectionFree releases the connection's context. Safe to call whether or
// not a session was created from it.
func (conn *Connection) ConnectionFree() {
	if conn.cancel != nil {
		conn.cancel()
	}
}

// Session is the body-transfer handle, promoted from a completed Connection.
type Session struct {
	resp       *http.Response
	buf        []byte
	total      int64
	readBuffer []byte
}

// SessionNew promotes a completed connection into a body-transfer session.
func SessionNew(conn *Connection) (*Session, error) {
	if !conn.ConnectionDone() {
		return nil, errors.New("httpclient: connection not done")
	}
	if conn.resp.StatusCode >= 400 {
		conn.resp.Body.Close()
		return nil, friendlyHTTPError(conn.resp.StatusCode)
	}
	return &Session{
		resp:       conn.resp,
		total:      conn.resp.ContentLength,
		readBuffer: make([]byte, 32*1024),
	}, nil
}

// Update reads at most one bandwidth-bounded chunk of the body and reports
// whether the transfer is complete.
func (s *Session) Update(maxBytes int) (done bool, err error) {
	if maxBytes <= 0 || maxBytes > len(s.readBuffer) {
		maxBytes = len(s.readBuffer)
	}
	n, readErr := s.resp.Body.Read(s.readBuffer[:maxBytes])
	if n > 0 {
		s.buf = append(s.buf, s.readBuffer[:n]...)
	}
	if readErr == io.EOF {
		return true, nil
	}
	if readErr != nil {
		return false, fmt.Errorf("httpclient: body read: %w", readErr)
	}
	return false, nil
}

// BytesSoFar / Total report transfer progress for diagnostics.
func (s *Session) BytesSoFar() int64 { return int64(len(s.buf)) }
func (s *Session) Total() int64      { return s.total }

// Data returns the bytes accumulated so far.
func (s *Session) Data() []byte {
	return s.buf
}

// Filename derives a destination filename for this session's response, via
// Content-Disposition or the URL path, falling back to "download.bin".
func (s *Session) Filename() string {
	return FilenameFromResponse(s.resp)
}

// Delete closes the underlying response body.
func (s *Session) Delete() {
	if s.resp != nil {
		s.resp.Body.Close()
	}
}

func friendlyHTTPError(status int) error {
	switch status {
	case 404:
		return fmt.Errorf("file not found on server (404)")
	case 403:
		return fmt.Errorf("access denied by server (403)")
	case 401:
		return fmt.Errorf("authentication required (401)")
	case 429:
		return fmt.Errorf("too many requests, try again later")
	case 500, 502, 503:
		return fmt.Errorf("server error (%d), try again later", status)
	default:
		return fmt.Errorf("server returned error %d", status)
	}
}

// FilenameFromResponse extracts a destination filename from Content-Disposition,
// falling back to the URL path's base name.
func FilenameFromResponse(resp *http.Response) string {
	cd := resp.Header.Get("Content-Disposition")
	if cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				return fn
			}
		}
	}
	filename := filepath.Base(resp.Request.URL.Path)
	if filename == "." || filename == "/" || filename == "" {
		return "download.bin"
	}
	return filename
}

// FriendlyError converts a low-level transport error into a short
// human-readable message, matching the teacher's error-translation table.
func FriendlyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such host"):
		return errors.New("server not found, check the URL is correct")
	case strings.Contains(msg, "connection refused"):
		return errors.New("server is offline or unreachable")
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errors.New("connection timed out, try again later")
	case strings.Contains(msg, "certificate"):
		return errors.New("SSL certificate error, the website may not be secure")
	case strings.Contains(msg, "network is unreachable"):
		return errors.New("no internet connection")
	default:
		return errors.New("connection failed, check your internet")
	}
}
