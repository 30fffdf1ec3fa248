package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aula-hub/aula-insights/pkg/circuitbreaker"
)

func testEmailConfig(url string) EmailConfig {
	cfg := DefaultEmailConfig("test-key")
	cfg.BaseURL = url
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func testSMSConfig(url string) SMSConfig {
	cfg := DefaultSMSConfig("acc-1", "secret")
	cfg.BaseURL = url
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestEmailGateway_SendEmail(t *testing.T) {
	var calls atomic.Int32
	var got emailRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"msg-1"}`)
	}))
	defer srv.Close()

	g := NewEmailGateway(testEmailConfig(srv.URL))

	err := g.SendEmail(context.Background(), "tutor@example.com", "Alerta académica", "Promedio actual: 4.2")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "tutor@example.com", got.To)
	assert.Equal(t, "Alerta académica", got.Subject)
	assert.Equal(t, "Promedio actual: 4.2", got.Text)
	assert.Equal(t, "alertas@aula-insights.example.com", got.From)
}

func TestEmailGateway_MissingRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway should not be called")
	}))
	defer srv.Close()

	g := NewEmailGateway(testEmailConfig(srv.URL))

	err := g.SendEmail(context.Background(), "", "subject", "body")
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestEmailGateway_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"id":"msg-2"}`)
	}))
	defer srv.Close()

	g := NewEmailGateway(testEmailConfig(srv.URL))

	err := g.SendEmail(context.Background(), "tutor@example.com", "s", "b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmailGateway_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"invalid recipient"}`)
	}))
	defer srv.Close()

	g := NewEmailGateway(testEmailConfig(srv.URL))

	err := g.SendEmail(context.Background(), "bad", "s", "b")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid recipient", apiErr.Message)
}

func TestEmailGateway_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testEmailConfig(srv.URL)
	cfg.RetryAttempts = 1
	g := NewEmailGateway(cfg)

	for i := 0; i < 3; i++ {
		err := g.SendEmail(context.Background(), "tutor@example.com", "s", "b")
		require.Error(t, err)
	}

	err := g.SendEmail(context.Background(), "tutor@example.com", "s", "b")
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load(), "open circuit must not reach the gateway")
}

func TestSMSGateway_SendSMS(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acc-1/sms", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "acc-1", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	g := NewSMSGateway(testSMSConfig(srv.URL))

	err := g.SendSMS(context.Background(), "+34600111222", "Asistencia: 65% (7 ausencias)")
	require.NoError(t, err)

	assert.Equal(t, "+34600111222", got.To)
	assert.Equal(t, "AulaInsights", got.From)
	assert.Equal(t, "Asistencia: 65% (7 ausencias)", got.Text)
}

func TestSMSGateway_MissingRecipient(t *testing.T) {
	g := NewSMSGateway(DefaultSMSConfig("acc-1", "secret"))

	err := g.SendSMS(context.Background(), "", "body")
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{Status: 429}, true},
		{"server error", &APIError{Status: 503}, true},
		{"client error", &APIError{Status: 400}, false},
		{"unauthorized", &APIError{Status: 401}, false},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"refused", errors.New("connection refused"), true},
		{"other", errors.New("no such host"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, 0, retryAfterSeconds(resp))

	resp.Header.Set("Retry-After", "30")
	assert.Equal(t, 30, retryAfterSeconds(resp))

	resp.Header.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Equal(t, 0, retryAfterSeconds(resp))
}

func TestConsoleSender(t *testing.T) {
	s := NewConsoleSender(nil)

	assert.NoError(t, s.SendEmail(context.Background(), "tutor@example.com", "s", "b"))
	assert.NoError(t, s.SendSMS(context.Background(), "+34600111222", "b"))
}
