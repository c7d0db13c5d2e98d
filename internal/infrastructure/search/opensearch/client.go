// Package opensearch implements the record repository over an
// Elasticsearch-compatible search backend using opensearch-go.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

var (
	ErrInvalidConfig    = errors.New(errors.ErrCodeValidation, "invalid configuration")
	ErrConnectionFailed = errors.New(errors.ErrCodeTransport, "connection failed")
)

// ClientConfig holds the connection parameters of the search backend.
type ClientConfig struct {
	Addresses           []string
	Username            string
	Password            string
	TLSEnabled          bool
	TLSCertPath         string
	RequestTimeout      time.Duration
	MaxIdleConnsPerHost int
	// HealthCheckInterval of zero disables the background health check.
	HealthCheckInterval time.Duration
	// SkipPing skips the connectivity check in NewClient.
	SkipPing bool
}

// Client wraps the opensearch-go client.  Every call gets its own timeout and
// is retried once when, and only when, that timeout expires.
type Client struct {
	client  *opensearch.Client
	config  ClientConfig
	logger  logging.Logger
	healthy atomic.Bool
	cancel  context.CancelFunc
}

// NewClient creates a client and verifies connectivity.
func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}

	osCfg := opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    &http.Transport{MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost},
		DisableRetry: true,
	}
	if cfg.TLSEnabled {
		pem, err := os.ReadFile(cfg.TLSCertPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to read TLS certificate")
		}
		osCfg.CACert = pem
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to create opensearch client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		client: client,
		config: cfg,
		logger: logger.Named("opensearch"),
		cancel: cancel,
	}

	if !cfg.SkipPing {
		if err := c.Ping(ctx); err != nil {
			cancel()
			return nil, ErrConnectionFailed.WithCause(err)
		}
	}

	if cfg.HealthCheckInterval > 0 {
		go c.startHealthCheck(ctx)
	}
	return c, nil
}

// ValidateConfig validates the client configuration.
func ValidateConfig(cfg ClientConfig) error {
	if len(cfg.Addresses) == 0 {
		return ErrInvalidConfig.WithDetail("at least one address is required")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New(errors.ErrCodeValidation, "RequestTimeout must be > 0")
	}
	if cfg.HealthCheckInterval < 0 {
		return errors.New(errors.ErrCodeValidation, "HealthCheckInterval must be >= 0")
	}
	if cfg.TLSEnabled && cfg.TLSCertPath == "" {
		return errors.New(errors.ErrCodeValidation, "TLSCertPath required when TLSEnabled is true")
	}
	return nil
}

// Ping checks the connection to the backend.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, "ping", func() opensearchapi.Request {
		return opensearchapi.PingRequest{}
	})
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("ping failed", logging.Err(err))
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		c.healthy.Store(false)
		c.logger.Warn("ping returned error status", logging.Int("status", resp.StatusCode))
		return errors.Newf(errors.ErrCodeTransport, "ping returned status %d", resp.StatusCode)
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the latest ping.
func (c *Client) IsHealthy() bool {
	return c.healthy.Load()
}

// Close stops the health check.
func (c *Client) Close() error {
	c.cancel()
	c.logger.Info("client closed")
	return nil
}

func (c *Client) startHealthCheck(ctx context.Context) {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.Ping(ctx)
			curr := c.healthy.Load()

			if prev && !curr {
				c.logger.Error("search backend became unhealthy", logging.Err(err))
			} else if !prev && curr {
				c.logger.Info("search backend recovered")
			}
		}
	}
}

// do executes the request built by build.  The response body is read in full
// under the per-call deadline so callers can decode it after the deadline's
// context is released.  Only a per-call timeout triggers the single retry;
// any failure is returned as ErrCodeTransport.
func (c *Client) do(ctx context.Context, op string, build func() opensearchapi.Request) (*opensearchapi.Response, error) {
	const attempts = 2
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		resp, err := build().Do(callCtx, c.client)
		if err == nil {
			var body []byte
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			if err == nil {
				cancel()
				resp.Body = io.NopCloser(bytes.NewReader(body))
				return resp, nil
			}
		}
		timedOut := callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()
		lastErr = err
		if !timedOut {
			break
		}
		if attempt < attempts {
			c.logger.Warn("request timed out, retrying",
				logging.String("op", op),
				logging.Duration("timeout", c.config.RequestTimeout))
		} else {
			lastErr = errors.Wrapf(err, errors.ErrCodeTimeout, "%s timed out after %d attempts", op, attempts)
		}
	}
	return nil, errors.Wrapf(lastErr, errors.ErrCodeTransport, "%s request failed", op)
}

// backendError is the error object of a non-2xx response.
type backendError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Index  string `json:"index"`
}

// responseError turns a non-2xx response into an AppError.  Missing and
// already existing indices get their own codes; everything else is a
// transport error.
func responseError(resp *opensearchapi.Response, op string) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	var be backendError
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		if json.Unmarshal(envelope.Error, &be) != nil {
			var s string
			if json.Unmarshal(envelope.Error, &s) == nil {
				be.Reason = s
			}
		}
	}

	code := errors.ErrCodeTransport
	switch {
	case be.Type == "index_not_found_exception":
		code = errors.ErrCodeIndexNotFound
	case be.Type == "resource_already_exists_exception":
		code = errors.ErrCodeIndexAlreadyExists
	case resp.StatusCode == http.StatusNotFound && be.Type == "":
		code = errors.ErrCodeIndexNotFound
	}

	if be.Reason != "" {
		return errors.Newf(code, "%s: %s", op, be.Reason).
			WithDetail(be.Type + " (status " + http.StatusText(resp.StatusCode) + ")")
	}
	return errors.Newf(code, "%s: backend returned status %d", op, resp.StatusCode)
}
