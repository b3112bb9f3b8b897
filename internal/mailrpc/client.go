// Package mailrpc speaks the mail daemon's wire protocol: JSON-RPC over
// a raw TCP connection, one request per line, one response per line.
package mailrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Sentinel error messages the server is known to answer with.
const (
	ErrMsgAlreadyStored   = "message_already_stored"
	ErrMsgTimestampTooOld = "timestamp_too_old"
)

// ServerError is an error field returned by the mail server.
type ServerError struct {
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ServerError) Error() string {
	return e.Message
}

// IsAlreadyStored reports whether err is the server telling us the
// message is already there.
func IsAlreadyStored(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr) && serverErr.Message == ErrMsgAlreadyStored
}

// IsTimestampTooOld reports whether err is the server's freshness
// rejection.
func IsTimestampTooOld(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr) && serverErr.Message == ErrMsgTimestampTooOld
}

type request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type response struct {
	ID     json.Number     `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Client is one TCP connection to a mail server.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	logger *slog.Logger
	nextID int
}

// Dial connects to a host:port endpoint. The context bounds the connect
// only; each Call takes its deadline from its own context.
func Dial(ctx context.Context, endpoint string, logger *slog.Logger) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect to mail server %s: %w", endpoint, err)
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: logger,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call issues one request and decodes the matching single-line response.
// A response ID mismatch is logged and tolerated.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	id := c.nextID
	c.nextID++

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	payload = append(payload, '\n')
	if _, err := c.conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}

	if respID, err := resp.ID.Int64(); err != nil || respID != int64(id) {
		c.logger.Warn("server response has wrong id, attempting to press on",
			slog.Int("expected", id), slog.String("got", resp.ID.String()))
	}

	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return nil, decodeServerError(resp.Error)
	}
	return resp.Result, nil
}

// decodeServerError accepts either a bare string or an object with a
// message field.
func decodeServerError(raw json.RawMessage) error {
	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		return &ServerError{Message: message}
	}
	var serverErr ServerError
	if err := json.Unmarshal(raw, &serverErr); err == nil && serverErr.Message != "" {
		return &serverErr
	}
	return &ServerError{Message: string(raw)}
}
