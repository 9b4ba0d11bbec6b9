package ssevents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
)

// ============================================================================
// Channel
// ============================================================================

// StatusNormalClosure is the close code used for every client-initiated close.
const StatusNormalClosure = int(websocket.StatusNormalClosure)

// readLimit bounds a single inbound message.
const readLimit = 4 << 20

// Channel is a live bidirectional message stream. Implementations must allow
// Write, Ping and Close concurrently with a blocked Read.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code int, reason string) error
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsChannel) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *wsChannel) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

// CloseStatus extracts the websocket close code from a Read error, or -1.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}

// ============================================================================
// Connection Establisher
// ============================================================================

// Dial performs the upgrade handshake against cfg.URL() with the credential
// header and returns the live channel. It does not retry.
func Dial(ctx context.Context, cfg Config, httpClient *http.Client) (Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.defaults()
	u := cfg.URL()

	header := http.Header{}
	header.Set(cfg.AuthHeader, cfg.APIKey)

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		hsErr := &HandshakeError{URL: u, Err: err}
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			hsErr.Status = resp.StatusCode
			if resp.Body != nil {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
				resp.Body.Close()
				hsErr.Body = strings.TrimSpace(string(body))
			}
		}
		return nil, hsErr
	}
	if conn == nil {
		return nil, &HandshakeError{URL: u, Err: errors.New("no websocket in response")}
	}
	conn.SetReadLimit(readLimit)
	return &wsChannel{conn: conn}, nil
}

func describeClose(err error) string {
	if code := CloseStatus(err); code != -1 {
		var ce websocket.CloseError
		if errors.As(err, &ce) && ce.Reason != "" {
			return fmt.Sprintf("closed with code %d: %s", code, ce.Reason)
		}
		return fmt.Sprintf("closed with code %d", code)
	}
	return err.Error()
}
