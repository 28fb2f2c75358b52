// Package remote is the HTTP client for the remote mutation service.
//
// Every entity is addressed by its client-assigned id:
//
//	POST   /api/{table}        create, body is the full record
//	PATCH  /api/{table}/{id}   update, body is the changed fields
//	DELETE /api/{table}/{id}   delete
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kimhsiao/homeinventory/internal/config"
	"github.com/kimhsiao/homeinventory/internal/logging"
	"github.com/kimhsiao/homeinventory/internal/models"
)

// IdempotencyHeader carries the queue entry id so the service can drop replays.
const IdempotencyHeader = "Idempotency-Key"

// Error is a failed remote call.
type Error struct {
	Op         string
	Table      models.Table
	EntityID   string
	StatusCode int // 0 for network failures
	Message    string
	Permanent  bool
	Err        error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	msg := fmt.Sprintf("%s %s/%s: %s failure", e.Op, e.Table, e.EntityID, kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a remote rejection that retrying cannot fix.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Permanent
}

// permanentStatus classifies non-success statuses. Timeouts, throttling and
// server errors are retryable; any other 4xx is a rejection of the request itself.
func permanentStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return false
	case code >= 500:
		return false
	default:
		return code >= 400
	}
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches key to requests made with ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

// IdempotencyKeyFrom returns the key attached by WithIdempotencyKey.
func IdempotencyKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKey{}).(string)
	return key, ok && key != ""
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client // optional; Timeout is ignored when set
}

// Client talks to the remote mutation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logging.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		log:        logging.Get().Component("remote"),
	}
}

// NewFromConfig creates a Client from the REMOTE_* settings.
func NewFromConfig(cfg config.RemoteConfig) *Client {
	return New(Options{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	})
}

// Create inserts a record and returns the id the service assigned to it.
// Services that echo no id, and 409 replays of an already applied create,
// yield the client id.
func (c *Client) Create(ctx context.Context, table models.Table, entityID string, payload json.RawMessage) (string, error) {
	resp, err := c.do(ctx, "create", http.MethodPost, table, entityID, "/api/"+table.String(), payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return entityID, nil
	}
	if err := checkStatus("create", table, entityID, resp); err != nil {
		return "", err
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if id := remoteID(body); id != "" {
		return id, nil
	}
	return entityID, nil
}

// Update applies a partial change.
func (c *Client) Update(ctx context.Context, table models.Table, entityID string, payload json.RawMessage) error {
	resp, err := c.do(ctx, "update", http.MethodPatch, table, entityID, entityPath(table, entityID), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus("update", table, entityID, resp)
}

// Delete removes a record. A record that is already gone counts as deleted.
func (c *Client) Delete(ctx context.Context, table models.Table, entityID string) error {
	resp, err := c.do(ctx, "delete", http.MethodDelete, table, entityID, entityPath(table, entityID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil
	}
	return checkStatus("delete", table, entityID, resp)
}

func (c *Client) do(ctx context.Context, op, method string, table models.Table, entityID, path string, payload json.RawMessage) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Op: op, Table: table, EntityID: entityID, Err: err}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Op: op, Table: table, EntityID: entityID, Permanent: true, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key, ok := IdempotencyKeyFrom(ctx); ok {
		req.Header.Set(IdempotencyHeader, key)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Table: table, EntityID: entityID, Err: err}
	}
	c.log.Debug("remote call", map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return resp, nil
}

func checkStatus(op string, table models.Table, entityID string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &Error{
		Op:         op,
		Table:      table,
		EntityID:   entityID,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.Body),
		Permanent:  permanentStatus(resp.StatusCode),
	}
}

// errorMessage extracts {"error": "..."} from a failure body, else the raw text.
func errorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(body))
}

// envelopeKeys are the wrappers a create response may put the record in,
// checked in this order.
var envelopeKeys = []string{"item", "location", "category", "data"}

// remoteID reads the assigned id from {"id": ...} or an envelope such as {"item": {"id": ...}}.
func remoteID(body []byte) string {
	var top map[string]json.RawMessage
	if json.Unmarshal(body, &top) != nil {
		return ""
	}
	if id := idField(top["id"]); id != "" {
		return id
	}
	for _, key := range envelopeKeys {
		raw, ok := top[key]
		if !ok {
			continue
		}
		var nested map[string]json.RawMessage
		if json.Unmarshal(raw, &nested) == nil {
			if id := idField(nested["id"]); id != "" {
				return id
			}
		}
	}
	return ""
}

func idField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func entityPath(table models.Table, entityID string) string {
	return "/api/" + table.String() + "/" + url.PathEscape(entityID)
}
