// Package classifier is a client for a zero-shot text classification
// inference endpoint.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/metrics"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("classifier unavailable")

// Config configures a Client.
type Config struct {
	// URL is the inference endpoint accepting zero-shot requests.
	URL string

	// Token is sent as a bearer token when set.
	Token string

	// Timeout bounds a single request.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Client calls a zero-shot classification endpoint through a circuit
// breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*domain.Classification]
	logger     *slog.Logger
}

var _ domain.Classifier = (*Client)(nil)

// NewClient creates a classifier client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("classifier url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	logger = logger.With("component", "classifier")
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*domain.Classification](gobreaker.Settings{
		Name:    "classifier",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Classify scores text against the candidate labels. The returned labels are
// ordered by descending score.
func (c *Client) Classify(ctx context.Context, text string, labels []string) (*domain.Classification, error) {
	result, err := c.breaker.Execute(func() (*domain.Classification, error) {
		return c.classify(ctx, text, labels)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ClassifierRequests.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	case err != nil:
		metrics.ClassifierRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ClassifierRequests.WithLabelValues("ok").Inc()
	return result, nil
}

// Ping checks that the endpoint answers a classification request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.classify(ctx, "ping", []string{"ping"})
	return err
}

func (c *Client) classify(ctx context.Context, text string, labels []string) (*domain.Classification, error) {
	body := zeroShotRequest{
		Inputs: text,
		Parameters: zeroShotParameters{
			CandidateLabels: labels,
		},
	}

	var resp zeroShotResponse
	if err := c.post(ctx, body, &resp); err != nil {
		return nil, fmt.Errorf("zero-shot request: %w", err)
	}

	return &domain.Classification{
		Sequence: resp.Sequence,
		Labels:   resp.Labels,
		Scores:   resp.Scores,
	}, nil
}

func (c *Client) post(ctx context.Context, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

type zeroShotResponse struct {
	Sequence string    `json:"sequence"`
	Labels   []string  `json:"labels"`
	Scores   []float64 `json:"scores"`
}
