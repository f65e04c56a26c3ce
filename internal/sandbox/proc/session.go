package proc

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/seantiz/enclave/internal/wire"
)

// session wraps one connection to an agent-hosted runtime. Each session is
// used by a single goroutine; requests and responses alternate strictly.
type session struct {
	conn   net.Conn
	reader io.Reader // buffered reader preserving any read-ahead bytes
}

func newSession(conn net.Conn) *session {
	return &session{conn: conn, reader: bufio.NewReader(conn)}
}

// roundTrip sends one request and reads the matching response.
func (s *session) roundTrip(req wire.Request) (wire.Response, error) {
	if err := wire.WriteMessage(s.conn, &req); err != nil {
		return wire.Response{}, fmt.Errorf("send %s: %w", req.Op, err)
	}
	var resp wire.Response
	if err := wire.ReadMessage(s.reader, &resp); err != nil {
		return wire.Response{}, fmt.Errorf("read %s response: %w", req.Op, err)
	}
	return resp, nil
}

// Close closes the underlying connection.
func (s *session) Close() error {
	return s.conn.Close()
}
