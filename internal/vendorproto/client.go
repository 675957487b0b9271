// Package vendorproto implements the line-oriented vendor TCP protocol:
// connect, write a command, and parse responses, including the
// asynchronous 5xx messages that can appear interleaved between a command
// and its reply.
//
// Grounded on the pack's accumulate-then-parse TCP loops (e.g.
// other_examples' zbum-scouter-server tcp-server.go) and on the deadline
// discipline the teacher applies to its websocket pumps
// (apps/sandbox/internal/ws/client.go's SetReadDeadline/SetWriteDeadline
// around fixed windows), adapted here to a plain net.Conn since this is
// TCP, not a websocket.
package vendorproto

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/onair-systems/studio-fabric/internal/model"
)

// DefaultPort is the vendor protocol's fixed default TCP port.
const DefaultPort = 9993

const (
	connectTimeout = 2 * time.Second
	readTimeout    = 2 * time.Second
)

// Client is a connected vendor-protocol session. It is not safe for
// concurrent use; its operations are meant to be called in sequence by a
// single caller (a proxied-command task in internal/agentconn).
type Client struct {
	conn net.Conn
	buf  []byte // bytes read from the socket not yet parsed into a response
}

// Connect dials addr (host:port) with a 2s timeout.
func Connect(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("vendorproto: connect %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// WriteCommand appends "\n" to cmd and writes it to the socket. It never
// touches c.buf, so bytes already buffered from a prior response are left
// intact for the next ReadResponse call.
func (c *Client) WriteCommand(cmd string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(readTimeout)); err != nil {
		return fmt.Errorf("vendorproto: set write deadline: %w", err)
	}
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("vendorproto: write command: %w", err)
	}
	return nil
}

// ReadResponse parses exactly one response from the buffer, refilling
// from the socket as needed with a 2s idle timeout. It consumes exactly
// the bytes of the parsed response (including terminators) and leaves any
// remaining buffered bytes intact for the next call.
func (c *Client) ReadResponse() (model.VendorResponse, error) {
	for {
		if resp, rest, ok, err := tryParse(c.buf); err != nil {
			return model.VendorResponse{}, err
		} else if ok {
			c.buf = rest
			return resp, nil
		}

		if err := c.fill(); err != nil {
			return model.VendorResponse{}, err
		}
	}
}

// ReadCommandResponse repeatedly calls ReadResponse and discards every
// asynchronous (5xx) response, returning the first response that isn't
// one.
func (c *Client) ReadCommandResponse() (model.VendorResponse, error) {
	for {
		resp, err := c.ReadResponse()
		if err != nil {
			return model.VendorResponse{}, err
		}
		if resp.Code < 500 || resp.Code >= 600 {
			return resp, nil
		}
	}
}

// fill reads more bytes from the socket into c.buf, applying the idle
// read deadline.
func (c *Client) fill() error {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return fmt.Errorf("vendorproto: set read deadline: %w", err)
	}
	chunk := make([]byte, 4096)
	n, err := c.conn.Read(chunk)
	if n > 0 {
		c.buf = append(c.buf, chunk[:n]...)
	}
	if err != nil {
		return fmt.Errorf("vendorproto: read: %w", err)
	}
	return nil
}

// tryParse attempts to extract exactly one response from buf, parsing
// only up to the last newline currently present; any trailing partial
// line is left for a future call. It reports ok=false (no error) when buf
// doesn't yet hold a complete response.
func tryParse(buf []byte) (resp model.VendorResponse, rest []byte, ok bool, err error) {
	lastNL := -1
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] == '\n' {
			lastNL = i
			break
		}
	}
	if lastNL == -1 {
		return model.VendorResponse{}, nil, false, nil
	}
	if !utf8.Valid(buf[:lastNL+1]) {
		return model.VendorResponse{}, nil, false, fmt.Errorf("vendorproto: non-UTF-8 bytes in response")
	}

	headerEnd := indexByte(buf, '\n')
	if headerEnd == -1 {
		return model.VendorResponse{}, nil, false, nil
	}
	header := string(buf[:headerEnd])

	code, text, multiline, err := parseHeader(header)
	if err != nil {
		return model.VendorResponse{}, nil, false, err
	}

	if !multiline {
		return model.VendorResponse{Code: code, Text: text}, buf[headerEnd+1:], true, nil
	}

	// Multi-line: scan for the terminating blank line.
	rest = buf[headerEnd+1:]
	var payload []string
	consumed := headerEnd + 1
	for {
		lineEnd := indexByte(rest, '\n')
		if lineEnd == -1 {
			return model.VendorResponse{}, nil, false, nil
		}
		line := string(rest[:lineEnd])
		consumed += lineEnd + 1
		rest = rest[lineEnd+1:]
		if line == "" {
			return model.VendorResponse{Code: code, Text: text, Payload: payload}, buf[consumed:], true, nil
		}
		payload = append(payload, line)
	}
}

// parseHeader parses "<code> <text>" or "<code> <text>:" and reports
// whether the response is multi-line (header ends with ':').
func parseHeader(header string) (code int, text string, multiline bool, err error) {
	sp := strings.IndexByte(header, ' ')
	if sp == -1 {
		return 0, "", false, fmt.Errorf("vendorproto: malformed response header %q", header)
	}
	codeStr := header[:sp]
	n, convErr := strconv.Atoi(codeStr)
	if convErr != nil {
		return 0, "", false, fmt.Errorf("vendorproto: malformed response code %q: %w", codeStr, convErr)
	}

	text = header[sp+1:]
	if strings.HasSuffix(text, ":") {
		return n, strings.TrimSuffix(text, ":"), true, nil
	}
	return n, text, false, nil
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// PayloadParameters splits a response payload into key: value pairs, both
// trimmed. Duplicate keys are last-writer-wins; a line without ':' is a
// parse error.
func PayloadParameters(payload []string) (map[string]string, error) {
	params := make(map[string]string, len(payload))
	for _, line := range payload {
		idx := strings.IndexByte(line, ':')
		if idx == -1 {
			return nil, fmt.Errorf("vendorproto: payload line %q has no ':'", line)
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		params[key] = value
	}
	return params, nil
}
