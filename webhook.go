package ssevents

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Webhook Types
// ============================================================================

// SignatureHeader carries the HMAC-SHA256 of the forwarded body.
const SignatureHeader = "X-SSEvents-Signature"

// WebhookPayload is the body POSTed for every forwarded notification.
type WebhookPayload struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp,omitempty"`
	Params    json.RawMessage `json:"params"`
}

// ============================================================================
// Standalone Functions
// ============================================================================

// SignPayload returns "sha256=<hex hmac>" for body.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a forwarded body against its signature header.
// Uses constant-time comparison.
func VerifySignature(body []byte, signature, secret string) bool {
	if len(body) == 0 || signature == "" || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}
	expected := strings.TrimPrefix(SignPayload(body, secret), "sha256=")
	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload validates and decodes a forwarded body.
func ParseWebhookPayload(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	return &payload, nil
}

// ============================================================================
// WebhookForwarder
// ============================================================================

// WebhookForwarder relays notifications to an HTTP endpoint.
type WebhookForwarder struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewWebhookForwarder creates a forwarder. secret may be empty, in which
// case requests are sent unsigned.
func NewWebhookForwarder(url, secret string, httpClient *http.Client) (*WebhookForwarder, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookForwarder{url: url, secret: secret, httpClient: httpClient}, nil
}

// Handle implements NotificationHandler. A non-2xx answer is an error.
func (w *WebhookForwarder) Handle(ctx context.Context, method string, params json.RawMessage) error {
	if len(params) == 0 {
		params = json.RawMessage("null")
	}
	body, err := json.Marshal(WebhookPayload{
		Event:     method,
		Timestamp: notificationTimestamp(params),
		Params:    params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, SignPayload(body, w.secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ============================================================================
// WebhookReceiver
// ============================================================================

// WebhookReceiver is the receiving side: it verifies, parses and hands the
// payload to a NotificationHandler.
type WebhookReceiver struct {
	secret  string
	handler NotificationHandler
}

// NewWebhookReceiver creates a receiver.
func NewWebhookReceiver(secret string, handler NotificationHandler) (*WebhookReceiver, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &WebhookReceiver{secret: secret, handler: handler}, nil
}

// ServeHTTP implements http.Handler.
func (wr *WebhookReceiver) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
		return
	}
	defer r.Body.Close()

	if !VerifySignature(body, r.Header.Get(SignatureHeader), wr.secret) {
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		return
	}
	payload, err := ParseWebhookPayload(body)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := wr.handler(r.Context(), payload.Event, payload.Params); err != nil {
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}
