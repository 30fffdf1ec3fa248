package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aula-hub/aula-insights/pkg/circuitbreaker"
	"github.com/aula-hub/aula-insights/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// SMSConfig contains configuration for the SMS gateway client.
type SMSConfig struct {
	// BaseURL is the gateway API base URL
	BaseURL string

	// AccountID identifies the account; sent as the basic-auth username
	AccountID string

	// AuthToken is the basic-auth password
	AuthToken string

	// Sender is the alphanumeric sender ID guardians see
	Sender string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RetryAttempts is the number of attempts for failed requests
	RetryAttempts int

	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultSMSConfig returns sensible defaults.
func DefaultSMSConfig(accountID, authToken string) SMSConfig {
	return SMSConfig{
		AccountID:     accountID,
		AuthToken:     authToken,
		BaseURL:       "https://api.sms-gateway.example.com",
		Sender:        "AulaInsights",
		Timeout:       15 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SMS GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// SMSGateway sends guardian notifications through an SMS API.
// Implements notification.SMSSender.
type SMSGateway struct {
	config     SMSConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewSMSGateway creates a new SMS gateway client.
func NewSMSGateway(config SMSConfig) *SMSGateway {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RetryAttempts == 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 500 * time.Millisecond
	}

	logger := config.Logger
	return &SMSGateway{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		breaker: circuitbreaker.SMSGatewayBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		}),
		retrier: retry.New(
			retry.WithMaxAttempts(config.RetryAttempts),
			retry.WithInitialDelay(config.RetryDelay),
			retry.WithMaxDelay(10*time.Second),
			retry.WithMultiplier(2.0),
			retry.WithJitter(0.2),
		),
		logger: logger,
	}
}

// smsRequest is the gateway's message payload.
type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendSMS delivers one message.
func (g *SMSGateway) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return ErrMissingRecipient
	}

	payload := smsRequest{
		From: g.config.Sender,
		To:   to,
		Text: body,
	}

	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.retrier.Do(ctx, func(ctx context.Context) error {
			err := g.send(ctx, payload)
			if err != nil && isRetryableError(err) {
				return retry.Retryable(err)
			}
			return err
		})
	})
}

// send performs a single gateway call.
func (g *SMSGateway) send(ctx context.Context, payload smsRequest) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	url := fmt.Sprintf("%s/v1/accounts/%s/sms", g.config.BaseURL, g.config.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.config.AccountID, g.config.AuthToken)

	if g.config.Debug {
		g.logger.Debug("sms gateway call", "to", payload.To)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Status:     resp.StatusCode,
			Message:    gatewayMessage(respBody),
			RetryAfter: retryAfterSeconds(resp),
		}
	}

	return nil
}
