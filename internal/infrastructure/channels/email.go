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

// EmailConfig contains configuration for the email gateway client.
type EmailConfig struct {
	// BaseURL is the gateway API base URL
	BaseURL string

	// APIKey authenticates against the gateway
	APIKey string

	// From is the sender address guardians see
	From string

	// FromName is the sender display name
	FromName string

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

// DefaultEmailConfig returns sensible defaults.
func DefaultEmailConfig(apiKey string) EmailConfig {
	return EmailConfig{
		APIKey:        apiKey,
		BaseURL:       "https://api.mail-gateway.example.com",
		From:          "alertas@aula-insights.example.com",
		FromName:      "Aula Insights",
		Timeout:       15 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EMAIL GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

// EmailGateway sends guardian notifications through a transactional email
// API. Implements notification.EmailSender.
type EmailGateway struct {
	config     EmailConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewEmailGateway creates a new email gateway client.
func NewEmailGateway(config EmailConfig) *EmailGateway {
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
	return &EmailGateway{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		breaker: circuitbreaker.EmailGatewayBreaker(func(name string, from, to circuitbreaker.State) {
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

// emailRequest is the gateway's message payload.
type emailRequest struct {
	From     string `json:"from"`
	FromName string `json:"from_name,omitempty"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
}

// emailResponse is the gateway's accepted-message response.
type emailResponse struct {
	ID string `json:"id"`
}

// SendEmail delivers one message. The whole retry cycle counts as a single
// request against the circuit breaker.
func (g *EmailGateway) SendEmail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return ErrMissingRecipient
	}

	payload := emailRequest{
		From:     g.config.From,
		FromName: g.config.FromName,
		To:       to,
		Subject:  subject,
		Text:     body,
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
func (g *EmailGateway) send(ctx context.Context, payload emailRequest) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	url := g.config.BaseURL + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	if g.config.Debug {
		g.logger.Debug("email gateway call", "to", payload.To, "subject", payload.Subject)
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

	var accepted emailResponse
	if err := json.Unmarshal(respBody, &accepted); err == nil && accepted.ID != "" && g.config.Debug {
		g.logger.Debug("email accepted", "message_id", accepted.ID)
	}

	return nil
}

// gatewayMessage extracts the error description from a gateway response.
func gatewayMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}
