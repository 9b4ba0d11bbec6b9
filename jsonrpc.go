package ssevents

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ProtocolVersion is the only JSON-RPC version accepted on the stream.
const ProtocolVersion = "2.0"

// ============================================================================
// Request IDs
// ============================================================================

// RequestID is a JSON-RPC id as it appeared on the wire (string or number).
// The raw form is kept so replies echo the id byte-for-byte.
type RequestID struct {
	raw json.RawMessage
}

// StringID builds a string-valued RequestID.
func StringID(s string) RequestID {
	b, _ := json.Marshal(s)
	return RequestID{raw: b}
}

// String returns the id as a correlation key. String ids are unquoted,
// numeric ids keep their literal text.
func (id RequestID) String() string {
	if len(id.raw) == 0 {
		return ""
	}
	if id.raw[0] == '"' {
		if s, err := strconv.Unquote(string(id.raw)); err == nil {
			return s
		}
	}
	return string(id.raw)
}

// IsZero reports whether the id is absent or JSON null.
func (id RequestID) IsZero() bool {
	return len(id.raw) == 0 || bytes.Equal(id.raw, []byte("null"))
}

func (id RequestID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

func (id *RequestID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty id")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return err
		}
	default:
		return fmt.Errorf("JSON-RPC id must be a string or number, got: %s", trimmed)
	}
	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

func newRequestID() string {
	return uuid.NewString()
}

// ============================================================================
// Outbound Messages
// ============================================================================

// Request is a client-initiated JSON-RPC call.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	ID     string `json:"id"`
}

// MarshalJSON adds the protocol version to the envelope.
func (r *Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
		ID      string `json:"id"`
	}{ProtocolVersion, r.Method, r.Params, r.ID})
}

type resultEnvelope struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result"`
	ID      RequestID `json:"id"`
}

// RPCError is the JSON-RPC error object carried by an ErrorResult frame.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ============================================================================
// Inbound Frames
// ============================================================================

// Frame is one of Notification, ServerRequest, Result or ErrorResult.
type Frame interface {
	frame()
}

// Notification is a server push without an id.
type Notification struct {
	Method string
	Params json.RawMessage
}

// ServerRequest is a server-initiated call that expects a reply.
type ServerRequest struct {
	Method string
	Params json.RawMessage
	ID     RequestID
}

// Result answers a client request successfully.
type Result struct {
	Result json.RawMessage
	ID     RequestID
}

// ErrorResult answers a client request with an error object.
type ErrorResult struct {
	Error *RPCError
	ID    RequestID
}

func (Notification) frame()  {}
func (ServerRequest) frame() {}
func (Result) frame()        {}
func (ErrorResult) frame()   {}

// ParseFrame classifies a raw message by which JSON-RPC fields are present.
// Anything that is not JSON, not version 2.0, or none of the four shapes
// yields a *MalformedFrameError.
func ParseFrame(data []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &MalformedFrameError{Raw: data, Err: err}
	}

	var version string
	if raw, ok := fields["jsonrpc"]; !ok || json.Unmarshal(raw, &version) != nil || version != ProtocolVersion {
		return nil, &MalformedFrameError{Raw: data, Err: fmt.Errorf("jsonrpc version must be %q", ProtocolVersion)}
	}

	rawMethod, hasMethod := fields["method"]
	rawID, hasID := fields["id"]
	rawResult, hasResult := fields["result"]
	rawError, hasError := fields["error"]

	var id RequestID
	if hasID {
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, &MalformedFrameError{Raw: data, Err: err}
		}
	}

	switch {
	case hasMethod:
		var method string
		if err := json.Unmarshal(rawMethod, &method); err != nil || method == "" {
			return nil, &MalformedFrameError{Raw: data, Err: errors.New("method must be a non-empty string")}
		}
		if !hasID {
			return Notification{Method: method, Params: fields["params"]}, nil
		}
		return ServerRequest{Method: method, Params: fields["params"], ID: id}, nil
	case hasResult && hasID:
		return Result{Result: rawResult, ID: id}, nil
	case hasError && hasID:
		rpcErr := &RPCError{}
		if err := json.Unmarshal(rawError, rpcErr); err != nil {
			rpcErr = &RPCError{Message: string(rawError)}
		}
		return ErrorResult{Error: rpcErr, ID: id}, nil
	default:
		return nil, &MalformedFrameError{Raw: data, Err: errors.New("unsupported message format")}
	}
}
