package terminology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofhir/fhir/r4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// ClientConfig configures the remote terminology server.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit int
}

// Client expands value sets through a FHIR terminology server's
// ValueSet/{id}/$expand operation. The API key, when set, is sent as the
// basic-auth password with the username "apikey".
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewClient creates a terminology client.
func NewClient(config ClientConfig, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}

	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:       logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "terminology",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// A missing value set is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return c
}

// Resolve implements domain.ValueSetResolver.
func (c *Client) Resolve(ctx context.Context, id string) (*domain.ValueSetRef, error) {
	id = normalizeID(id)
	if id == "" {
		return nil, fmt.Errorf("value set id cannot be empty")
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.expand(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ValueSetRef), nil
}

// State reports the circuit breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) expand(ctx context.Context, id string) (*domain.ValueSetRef, error) {
	endpoint := fmt.Sprintf("%s/ValueSet/%s/$expand", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if c.apiKey != "" {
		req.SetBasicAuth("apikey", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("expanding value set %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("value set %s: %w", id, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("terminology server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var vs r4.ValueSet
	if err := json.NewDecoder(resp.Body).Decode(&vs); err != nil {
		return nil, fmt.Errorf("decoding expansion of %s: %w", id, err)
	}
	ref, _, err := FromR4(&vs)
	if err != nil {
		return nil, fmt.Errorf("converting expansion of %s: %w", id, err)
	}
	// Servers may answer with the canonical URL as the resource identity.
	ref.ID = id

	c.log.WithFields(logrus.Fields{
		"value_set": id,
		"codes":     len(ref.Codes),
		"duration":  time.Since(start),
	}).Debug("Value set expanded")
	return ref, nil
}
