// Package identity is the HTTP client for the upstream account service,
// which also serves chart and play-record metadata.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/session"
)

// ErrUnauthorized marks a token the identity service rejected, as opposed to
// a transport failure.
var ErrUnauthorized = fmt.Errorf("identity: token rejected")

// Client talks to the upstream service. One circuit breaker guards all
// endpoints: they share a deployment, so they fail together.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

// NewClient builds a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "identity",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     15 * time.Second,
			OnStateChange: func(name string, from, to gobreaker.State) {
				var stateVal float64
				switch to {
				case gobreaker.StateOpen:
					stateVal = 1
				case gobreaker.StateHalfOpen:
					stateVal = 2
				}
				metrics.CircuitBreakerState.WithLabelValues("identity").Set(stateVal)
			},
		}),
	}
}

func (c *Client) get(ctx context.Context, path, bearer string, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, ErrUnauthorized
		case resp.StatusCode != http.StatusOK:
			return nil, fmt.Errorf("identity: GET %s returned %d", path, resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("identity").Inc()
	}
	return err
}

// Me implements session.IdentityResolver: it validates a client token and
// returns the account behind it.
func (c *Client) Me(ctx context.Context, token string) (session.Account, error) {
	var body struct {
		ID       int32  `json:"id"`
		Name     string `json:"name"`
		Language string `json:"language"`
	}
	if err := c.get(ctx, "/me", token, &body); err != nil {
		return session.Account{}, err
	}
	if body.Language == "" {
		body.Language = "en-US"
	}
	return session.Account{ID: body.ID, Name: body.Name, Language: body.Language}, nil
}

// Chart implements session.ChartResolver.
func (c *Client) Chart(ctx context.Context, id int32) (game.Chart, error) {
	var body struct {
		ID   int32  `json:"id"`
		Name string `json:"name"`
	}
	if err := c.get(ctx, fmt.Sprintf("/chart/%d", id), "", &body); err != nil {
		return game.Chart{}, err
	}
	return game.Chart{ID: body.ID, Name: body.Name}, nil
}

// Record implements session.RecordResolver: it resolves a play record so the
// Played broadcast carries score and accuracy.
func (c *Client) Record(ctx context.Context, id int32) (game.PlayedRecord, error) {
	var body struct {
		ID        int32   `json:"id"`
		Score     int32   `json:"score"`
		Accuracy  float32 `json:"accuracy"`
		FullCombo bool    `json:"full_combo"`
	}
	if err := c.get(ctx, fmt.Sprintf("/record/%d", id), "", &body); err != nil {
		return game.PlayedRecord{}, err
	}
	return game.PlayedRecord{
		RecordID:  body.ID,
		Score:     body.Score,
		Accuracy:  body.Accuracy,
		FullCombo: body.FullCombo,
	}, nil
}
