package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/stagekit/stagehand/internal/types"
)

// Gateway is the mutation interface the store depends on. Tests
// substitute an in-memory fake.
type Gateway interface {
	CreateItem(ctx context.Context, token string, args CreateArgs) (CreateResult, error)
	MoveStage(ctx context.Context, args MoveArgs) (MoveResult, error)
	MarkComplete(ctx context.Context, args CompleteArgs) (CompleteResult, error)
	DeleteItem(ctx context.Context, args DeleteArgs) (DeleteResult, error)
	Health(ctx context.Context) (HealthResult, error)
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the server root, e.g. http://host:port.
	BaseURL string

	// Actor identifies this engine instance in request envelopes.
	Actor string

	// Version is the client version reported to the server.
	Version string

	// RequestTimeout bounds one call including its single retry
	// (default: 10s).
	RequestTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger for request activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout: 10 * time.Second,
	}
}

// Client speaks the RPC protocol over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
}

var _ Gateway = (*Client)(nil)

// New creates a gateway client from config.
func New(cfg *Config) *Client {
	d := DefaultConfig()
	if cfg == nil {
		cfg = d
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[gateway] ", log.LstdFlags)
	}
	return &Client{cfg: *cfg, http: httpClient, logger: logger}
}

// CreateItem registers a new item. token is the idempotency key: the
// server returns the same external ID for a repeated token, so the
// retry (or a queue replay) can never create a duplicate.
func (c *Client) CreateItem(ctx context.Context, token string, args CreateArgs) (CreateResult, error) {
	var out CreateResult
	err := c.call(ctx, OpCreate, token, args, &out)
	return out, err
}

// MoveStage asks the server to ensure the item is at the target
// stage. Repeating an applied move succeeds without effect.
func (c *Client) MoveStage(ctx context.Context, args MoveArgs) (MoveResult, error) {
	var out MoveResult
	err := c.call(ctx, OpMove, "", args, &out)
	return out, err
}

// MarkComplete asks the server to mark the item complete.
func (c *Client) MarkComplete(ctx context.Context, args CompleteArgs) (CompleteResult, error) {
	var out CompleteResult
	err := c.call(ctx, OpComplete, "", args, &out)
	return out, err
}

// DeleteItem removes the item on the server.
func (c *Client) DeleteItem(ctx context.Context, args DeleteArgs) (DeleteResult, error) {
	var out DeleteResult
	err := c.call(ctx, OpDelete, "", args, &out)
	return out, err
}

// Health returns server status and version.
func (c *Client) Health(ctx context.Context) (HealthResult, error) {
	var out HealthResult
	err := c.call(ctx, OpHealth, "", struct{}{}, &out)
	return out, err
}

// call runs one RPC: marshal the envelope, POST it, retry exactly once
// on a network-level failure if budget remains, decode the result.
func (c *Client) call(ctx context.Context, op, requestID string, args, out any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal %s args: %w", op, err)
	}
	req := Request{
		Operation:     op,
		Args:          argsJSON,
		Actor:         c.cfg.Actor,
		RequestID:     requestID,
		ClientVersion: c.cfg.Version,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	err = c.post(ctx, op, body, out)
	if netErr, ok := retryableNetworkError(err); ok && ctx.Err() == nil {
		c.logger.Printf("Retrying %s after network failure: %v", op, netErr.Err)
		err = c.post(ctx, op, body, out)
	}
	return err
}

func retryableNetworkError(err error) (*types.NetworkError, bool) {
	ne, ok := err.(*types.NetworkError)
	if !ok || !ne.Retryable {
		return nil, false
	}
	return ne, true
}

// post performs a single HTTP exchange and maps the outcome:
// transport failures and 5xx become *types.NetworkError, rejection
// envelopes become typed errors by code.
func (c *Client) post(ctx context.Context, op string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return &types.NetworkError{Op: op, Err: err, Retryable: true}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return &types.NetworkError{Op: op, Err: err, Retryable: true}
	}

	if httpResp.StatusCode >= 500 {
		return &types.NetworkError{
			Op:        op,
			Err:       fmt.Errorf("server returned %s", httpResp.Status),
			Retryable: true,
		}
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return &types.NetworkError{
			Op:        op,
			Err:       fmt.Errorf("undecodable response (%s): %w", httpResp.Status, err),
			Retryable: false,
		}
	}

	if !resp.Success {
		return rejectionError(resp)
	}

	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", op, err)
		}
	}
	return nil
}

// rejectionError maps a failed envelope onto the error taxonomy.
// Unknown codes default to conflict: the server refused the mutation,
// so the caller must roll back either way.
func rejectionError(resp Response) error {
	switch resp.Code {
	case CodeValidation:
		return &types.ValidationError{Field: "request", Reason: resp.Error}
	case CodeNotFound:
		return &types.NotFoundError{Kind: "item", ID: resp.Error}
	default:
		return &types.ConflictError{Reason: resp.Error}
	}
}
