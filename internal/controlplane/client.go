package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sp00nznet/pontoond/internal/xerrors"
)

// Client is the control plane's §6.2 JSON HTTP surface: base endpoint
// plus the fixed `/internal` prefix, non-2xx responses retried with
// exponential backoff up to the calling task's retry ceiling.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// New constructs a Client against endpoint (e.g. "https://control-plane.internal").
func New(endpoint string, maxRetries uint64) *Client {
	return &Client{
		baseURL:    endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: maxRetries,
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/internal%s", c.baseURL, path)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := func() error {
		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return backoff.Permanent(err)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("control plane %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(err)
			}
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return xerrors.Wrap(xerrors.UnknownKind, fmt.Sprintf("control plane %s %s", method, path), err)
	}
	return nil
}

// GetRecipient fetches a Recipient by id.
func (c *Client) GetRecipient(ctx context.Context, id string) (*Recipient, error) {
	var r Recipient
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/recipients/%s", id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetSource fetches a Source (unmasked connection info) by id.
func (c *Client) GetSource(ctx context.Context, id string) (*Source, error) {
	var s Source
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sources/%s", id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetModel fetches a Model by id.
func (c *Client) GetModel(ctx context.Context, id string) (*Model, error) {
	var m Model
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/models/%s", id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetDestination fetches a Destination (unmasked connection info) by id.
func (c *Client) GetDestination(ctx context.Context, id string) (*Destination, error) {
	var d Destination
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/destinations/%s", id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// LatestRun fetches the most recent TransferRun for transferID, or nil
// when the response carries no run id. Any non-2xx status, 404
// included, is retried by do and then returned as an error.
func (c *Client) LatestRun(ctx context.Context, transferID string) (*TransferRun, error) {
	var r TransferRun
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/runs/%s", transferID), nil, &r)
	if err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, nil
	}
	return &r, nil
}

// CreateRun opens a new TransferRun, per §4.7 step 1.
func (c *Client) CreateRun(ctx context.Context, run TransferRun) (*TransferRun, error) {
	var out TransferRun
	if err := c.do(ctx, http.MethodPost, "/runs", run, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRun applies a partial update to runID, per §4.7 step 10. A
// failing terminal PUT is the caller's concern to log; it must not
// change the in-process outcome (§6.2).
func (c *Client) UpdateRun(ctx context.Context, runID string, update RunUpdate) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/runs/%s", runID), update, nil)
}
