package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"go.uber.org/zap"
)

// Envelope wraps every catalog response
type Envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Environment is one deployment target known to the catalog
type Environment struct {
	BrokerURL string `json:"broker_url"`
	Exchange  string `json:"exchange,omitempty"`
}

// Environments lists targets and the one currently selected
type Environments struct {
	Active       string                 `json:"active"`
	Environments map[string]Environment `json:"environments"`
}

// Routes holds routing key templates; {device_id} is substituted per message
type Routes struct {
	Vitals      string `json:"vitals,omitempty"`
	Risk        string `json:"risk,omitempty"`
	Alerts      string `json:"alerts,omitempty"`
	Assignments string `json:"assignments,omitempty"`
}

// Document is everything the worker takes from the catalog at startup
type Document struct {
	Environment string
	BrokerURL   string
	Exchange    string
	Routes      Routes
	Thresholds  threshold.Table
}

// Options configures the catalog client
type Options struct {
	BaseURL     string
	Environment string // overrides the catalog's active selection when set
	Attempts    int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

// Client fetches startup configuration from the catalog service
type Client struct {
	httpClient  *resty.Client
	environment string
	attempts    int
	retryDelay  time.Duration
	logger      *zap.Logger
}

// NewClient creates a catalog client
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient:  client,
		environment: opts.Environment,
		attempts:    opts.Attempts,
		retryDelay:  opts.RetryDelay,
		logger:      logger,
	}
}

// Load fetches the document with a fixed number of attempts and a fixed
// delay between them. The last error is returned once attempts run out.
func (c *Client) Load(ctx context.Context) (*Document, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		c.logger.Info("loading catalog", zap.Int("attempt", attempt), zap.Int("attempts", c.attempts))

		doc, err := c.fetch(ctx)
		if err == nil {
			c.logger.Info("catalog loaded",
				zap.String("environment", doc.Environment),
				zap.Int("profiles", len(doc.Thresholds)),
			)
			return doc, nil
		}
		lastErr = err
		c.logger.Warn("catalog not ready", zap.Int("attempt", attempt), zap.Error(err))

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("catalog load cancelled: %w", ctx.Err())
		case <-time.After(c.retryDelay):
		}
	}

	return nil, fmt.Errorf("[CATALOG] unavailable after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) fetch(ctx context.Context) (*Document, error) {
	var envs Environments
	if err := c.get(ctx, "/config/environments", &envs); err != nil {
		return nil, err
	}

	doc := &Document{Environment: envs.Active}
	if c.environment != "" {
		doc.Environment = c.environment
	}
	if doc.Environment != "" {
		env, ok := envs.Environments[doc.Environment]
		if !ok {
			return nil, fmt.Errorf("environment %q not defined in catalog", doc.Environment)
		}
		doc.BrokerURL = env.BrokerURL
		doc.Exchange = env.Exchange
	}

	if err := c.get(ctx, "/config/topics", &doc.Routes); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := c.get(ctx, "/thresholds", &raw); err != nil {
		return nil, err
	}
	table, err := threshold.ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	doc.Thresholds = table

	return doc, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	var envelope Envelope
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&envelope).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to call catalog %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("catalog %s returned status %d", path, resp.StatusCode())
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("catalog %s returned no data", path)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode catalog %s: %w", path, err)
	}
	return nil
}
