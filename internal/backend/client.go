// Package backend is the HTTP client for the detection dashboard backend.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/detection"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-console/internal/logger"
)

// Backend endpoints.
const (
	DetectionsPath = "/get_detections"
	UploadPath     = "/upload"
	VideoFeedPath  = "/video_feed"
	FileFeedPath   = "/video_file_feed"

	// UploadField is the multipart field the backend reads the file from.
	UploadField = "file"
	// RequestIDHeader correlates console log lines with backend requests.
	RequestIDHeader = "X-Request-ID"
)

// StreamMode selects the raw or annotated camera stream.
type StreamMode string

const (
	ModeRaw       StreamMode = "raw"
	ModeProcessed StreamMode = "processed"
)

// ErrFetchFailed matches every *FetchError.
var ErrFetchFailed = errors.New("backend: fetch failed")

// FetchError describes a failed backend request.
type FetchError struct {
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UploadResponse is the /upload JSON body, either {file_path} or {error}.
type UploadResponse struct {
	FilePath string `json:"file_path"`
	Error    string `json:"error"`
}

// Client talks to one backend. It imposes no timeouts: a hung request only
// delays whoever is waiting on it.
type Client struct {
	base *url.URL
	http Doer
	log  *logger.Logger
}

// NewClient parses baseURL and returns a client using doer (nil means a plain http.Client).
func NewClient(baseURL string, doer Doer, log *logger.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	if doer == nil {
		doer = &http.Client{}
	}
	if log == nil {
		log = logger.For("Backend")
	}
	return &Client{base: u, http: doer, log: log}, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

// StreamURL is the camera stream in the given mode.
func (c *Client) StreamURL(mode StreamMode) string {
	return c.endpoint(VideoFeedPath, url.Values{"mode": {string(mode)}})
}

// FileStreamURL is the processed stream of an uploaded file.
func (c *Client) FileStreamURL(handle string) string {
	return c.endpoint(FileFeedPath, url.Values{"file_path": {handle}})
}

// ResolveURL makes a backend-relative reference (such as a crop path) absolute.
// Absolute URLs pass through; unparsable references are returned unchanged.
func (c *Client) ResolveURL(ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(r.Path, "/") {
		r.Path = "/" + r.Path
	}
	return c.base.ResolveReference(r).String()
}

// FetchDetections reads the backend's rolling detection list.
func (c *Client) FetchDetections(ctx context.Context) ([]detection.Raw, error) {
	const op = "GET " + DetectionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(DetectionsPath, nil), nil)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Op: op, Status: resp.StatusCode}
	}

	raws, err := detection.DecodeList(body)
	if err != nil {
		return nil, &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return raws, nil
}

// Upload streams body as a multipart file named name and returns the decoded
// response. The status code is returned alongside so callers can tell an HTTP
// failure from a JSON error payload.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader, requestID string) (UploadResponse, int, error) {
	const op = "POST " + UploadPath

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(UploadField, name)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(UploadPath, nil), pr)
	if err != nil {
		pr.CloseWithError(err)
		return UploadResponse{}, 0, &FetchError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return UploadResponse{}, 0, &FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResponse{}, resp.StatusCode, &FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	c.log.Debugf("upload %s (%s) -> status %d", name, requestID, resp.StatusCode)
	return out, resp.StatusCode, nil
}

// OpenStream starts a streaming GET. The caller owns the response body; the
// request lives until ctx is cancelled or the body is closed.
func (c *Client) OpenStream(ctx context.Context, streamURL string) (*http.Response, error) {
	op := "GET " + streamURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &FetchError{Op: op, Status: resp.StatusCode}
	}
	return resp, nil
}
