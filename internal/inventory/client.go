package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5/middleware"
)

// Client talks to the inventory service over HTTP. Transient failures
// (network errors, 5xx) are retried with exponential backoff; once retries
// are exhausted the error wraps ErrUnavailable.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int

	initialInterval time.Duration
}

func NewClient(baseURL string, attemptTimeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: attemptTimeout},
		retries:         retries,
		initialInterval: 100 * time.Millisecond,
	}
}

type reservationRequest struct {
	ReservationID string `json:"reservation_id"`
	Items         []Item `json:"items,omitempty"`
}

type releaseResponse struct {
	Released []Item `json:"released"`
}

type staleResponse struct {
	ReservationIDs []string `json:"reservation_ids"`
}

type errorBody struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// rejectedError is a 4xx answer: the service is up and said no.
type rejectedError struct {
	status int
	msg    string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("inventory rejected request: status %d: %s", e.status, e.msg)
}

func (c *Client) Reserve(ctx context.Context, reservationID string, items []Item) error {
	return c.do(ctx, http.MethodPost, "/inventory/reserve", reservationRequest{ReservationID: reservationID, Items: items}, nil)
}

func (c *Client) Release(ctx context.Context, reservationID string, items []Item) error {
	var out releaseResponse
	return c.do(ctx, http.MethodPost, "/inventory/release", reservationRequest{ReservationID: reservationID, Items: items}, &out)
}

func (c *Client) Commit(ctx context.Context, reservationID string) error {
	return c.do(ctx, http.MethodPost, "/inventory/commit", reservationRequest{ReservationID: reservationID}, nil)
}

// Stale lists reservations still RESERVED after olderThan.
func (c *Client) Stale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	var out staleResponse
	path := "/inventory/reservations/stale?older_than=" + url.QueryEscape(olderThan.String())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.ReservationIDs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if rid := middleware.GetReqID(ctx); rid != "" {
			req.Header.Set(middleware.RequestIDHeader, rid)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil || len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("inventory %s %s: status %d", method, path, resp.StatusCode)
		}

		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		if eb.Error == "insufficient_stock" {
			return backoff.Permanent(&InsufficientStockError{ProductID: eb.ProductID, Requested: eb.Requested, Available: eb.Available})
		}
		if eb.Error == "reservation_closed" {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrReservationClosed, path))
		}
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return backoff.Permanent(&rejectedError{status: resp.StatusCode, msg: eb.Error})
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retries)), ctx)

	err := backoff.Retry(op, policy)
	if err == nil {
		return nil
	}
	var ise *InsufficientStockError
	var rej *rejectedError
	if errors.As(err, &ise) || errors.As(err, &rej) || errors.Is(err, ErrReservationClosed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
