package relay

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/lyolishe/collaborative-text-editor/transport"
)

// sendTimeout bounds a single broadcast write so one slow participant
// can't stall the fan-out errgroup indefinitely.
const sendTimeout = 5 * time.Second

// participant is one connected client of a document's relay session. Its
// framing matches transport.netConn's newline-delimited JSON exactly,
// since both sides of the hijacked connection must agree on wire shape.
type participant struct {
	id     string
	docID  string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
	closed bool
}

func newParticipant(id, docID string, conn net.Conn) *participant {
	return &participant{id: id, docID: docID, conn: conn, reader: bufio.NewReader(conn)}
}

func (p *participant) send(env transport.Envelope) error {
	data, err := transport.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	p.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	defer p.conn.SetWriteDeadline(time.Time{})
	data = append(data, '\n')
	_, err = p.conn.Write(data)
	return err
}

func (p *participant) recv() (transport.Envelope, error) {
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		return transport.Envelope{}, err
	}
	return transport.UnmarshalEnvelope(line)
}

func (p *participant) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
