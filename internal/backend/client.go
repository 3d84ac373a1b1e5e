package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Dispatch errors. One interaction attempt maps any of these to a failure
// cue and a return to the waiting state; none are retried here.
var (
	ErrTimeout        = errors.New("backend timeout")
	ErrUnauthorized   = errors.New("backend unauthorized")
	ErrUnreachable    = errors.New("backend unreachable")
	ErrServerRejected = errors.New("backend rejected request")
	ErrNoVolunteer    = errors.New("no volunteers available")
)

// IntentResult is the structured command returned by the intent endpoint.
// Metadata rides in response headers; the body is the spoken response audio
// for the simple playback round trip. Immutable once received.
type IntentResult struct {
	ActionCommand   string
	DetectedModule  string
	TranscribedText string
	RequiresImage   bool
	Audio           []byte
}

// Reservation is a successfully locked volunteer.
type Reservation struct {
	RoomID    string
	Volunteer Volunteer
}

type Volunteer struct {
	ID   string
	Name string
}

// Credentials grant a join to the realtime transport.
type Credentials struct {
	URL   string
	Token string
}

// ProductInfo is the out-of-band metadata of a product check response.
type ProductInfo struct {
	Name string
}

// Client talks to the Perceiva backend. The bearer token is read-only shared
// state across every request.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		// Intent classification runs STT + LLM server-side; allow for it.
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Classify uploads a finished recording and returns the structured command.
func (c *Client) Classify(ctx context.Context, wavPath string) (*IntentResult, error) {
	resp, err := c.postFile(ctx, "/pi_audio", "audio", wavPath, "audio/wav")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	res := &IntentResult{
		ActionCommand:   resp.Header.Get("X-Action-Command"),
		DetectedModule:  headerOr(resp, "X-Detected-Module", "Unknown"),
		TranscribedText: unquoteHeader(resp.Header.Get("X-Transcribed-Text")),
		RequiresImage:   resp.Header.Get("X-Requires-Image") == "true",
		Audio:           audio,
	}
	log.Printf("backend: classified command=%q module=%q audio=%dB", res.ActionCommand, res.DetectedModule, len(audio))
	return res, nil
}

// CheckProduct uploads a captured image and returns the spoken description.
func (c *Client) CheckProduct(ctx context.Context, imagePath string) ([]byte, ProductInfo, error) {
	resp, err := c.postFile(ctx, "/check_product", "image", imagePath, "image/jpeg")
	if err != nil {
		return nil, ProductInfo{}, err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, ProductInfo{}, err
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ProductInfo{}, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	return audio, ProductInfo{Name: unquoteHeader(resp.Header.Get("X-Product-Name"))}, nil
}

// RequestVolunteer atomically reserves an available volunteer.
func (c *Client) RequestVolunteer(ctx context.Context) (*Reservation, error) {
	var out struct {
		Success   bool   `json:"success"`
		RoomID    string `json:"roomID"`
		Volunteer struct {
			ID       string `json:"_id"`
			Username string `json:"username"`
		} `json:"volunteer"`
	}
	err := c.postJSON(ctx, "/api/call/request-volunteer", nil, &out)
	if err != nil {
		// The backend answers 404 when every volunteer is busy.
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, ErrNoVolunteer
		}
		return nil, err
	}
	if !out.Success {
		return nil, ErrNoVolunteer
	}
	return &Reservation{
		RoomID:    out.RoomID,
		Volunteer: Volunteer{ID: out.Volunteer.ID, Name: out.Volunteer.Username},
	}, nil
}

// RoomCredentials exchanges the reserved volunteer for transport credentials.
func (c *Client) RoomCredentials(ctx context.Context, volunteerID string) (*Credentials, error) {
	var out struct {
		LivekitURL string `json:"livekitUrl"`
		Token      string `json:"token"`
	}
	in := map[string]string{"targetUserId": volunteerID}
	if err := c.postJSON(ctx, "/api/call/get-room", in, &out); err != nil {
		return nil, err
	}
	if out.LivekitURL == "" || out.Token == "" {
		return nil, fmt.Errorf("%w: incomplete credentials", ErrServerRejected)
	}
	return &Credentials{URL: out.LivekitURL, Token: out.Token}, nil
}

// EndCall notifies the backend that the call is over, freeing the volunteer.
// Fire-and-forget: the caller logs and moves on if this fails.
func (c *Client) EndCall(ctx context.Context, roomID string) error {
	in := map[string]string{"roomID": roomID}
	return c.postJSON(ctx, "/api/call/end-call", in, nil)
}

func (c *Client) postFile(ctx context.Context, path, field, filePath, contentType string) (*http.Response, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filepath.Base(filePath)))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusError carries the diagnostic payload of a non-success response. It
// matches ErrServerRejected under errors.Is.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: status=%d body=%s", ErrServerRejected, e.code, e.body)
}

func (e *statusError) Is(target error) bool { return target == ErrServerRejected }

func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func headerOr(resp *http.Response, key, def string) string {
	if v := resp.Header.Get(key); v != "" {
		return v
	}
	return def
}

// unquoteHeader decodes percent-escaped header values (the backend escapes
// transcribed text to keep headers ASCII-safe).
func unquoteHeader(v string) string {
	if v == "" {
		return ""
	}
	if u, err := url.QueryUnescape(v); err == nil {
		return u
	}
	return v
}
