package relay

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lyolishe/collaborative-text-editor/proto"
	"github.com/lyolishe/collaborative-text-editor/transport"
)

// testClient dials the relay's listener with a minimal hand-rolled
// HTTP/1.1 request line (mirroring transport.NetDialer) and exposes the
// same newline-delimited JSON framing used post-hijack.
type testClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialTestClient(t *testing.T, addr, docID string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	req := "GET /ws/" + docID + " HTTP/1.1\r\nHost: test\r\n\r\n"
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}
	return &testClient{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *testClient) send(env transport.Envelope) {
	data, err := transport.MarshalEnvelope(env)
	if err != nil {
		panic(err)
	}
	data = append(data, '\n')
	c.conn.Write(data)
}

func (c *testClient) recv(t *testing.T) transport.Envelope {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	env, err := transport.UnmarshalEnvelope(line)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func startTestRelay(t *testing.T) (addr string, registry *Registry) {
	t.Helper()
	registry = NewRegistry(0, nil)
	server := NewServer(registry)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	httpSrv := &http.Server{Handler: server.Handler()}
	go httpSrv.Serve(ln)
	t.Cleanup(func() { httpSrv.Close() })

	return ln.Addr().String(), registry
}

func TestRelay_BroadcastsOperationToOtherParticipants(t *testing.T) {
	addr, _ := startTestRelay(t)

	c1 := dialTestClient(t, addr, "doc1")
	defer c1.conn.Close()
	c2 := dialTestClient(t, addr, "doc1")
	defer c2.conn.Close()

	// Drain each participant's users_update notifications: c1 sees its
	// own join (count=1), then the broadcast when c2 joins (count=2);
	// c2 only sees the latter, since it wasn't registered for the first.
	c1.recv(t)
	c1.recv(t)
	c2.recv(t)

	op := proto.Operation{Kind: proto.KindInsert, ID: []uint32{1 << 20}, Value: "a", Timestamp: 1, Site: "r1"}
	c1.send(transport.Envelope{Type: "operation", Operation: &op})

	got := c2.recv(t)
	if got.Type != "operation" || got.Operation == nil || got.Operation.Value != "a" {
		t.Fatalf("expected c2 to receive the broadcast operation, got %+v", got)
	}
}

func TestRelay_SyncOperationGetsAck(t *testing.T) {
	addr, _ := startTestRelay(t)

	c1 := dialTestClient(t, addr, "doc1")
	defer c1.conn.Close()
	c1.recv(t) // own join notification

	op := proto.Operation{Kind: proto.KindInsert, ID: []uint32{1 << 20}, Value: "a", Timestamp: 1, Site: "r1"}
	c1.send(transport.Envelope{Type: "operation", Operation: &op, IsSync: true})

	ack := c1.recv(t)
	if ack.Type != "operation_ack" || ack.Success == nil || !*ack.Success {
		t.Fatalf("expected success ack, got %+v", ack)
	}
	if ack.OperationID != op.ID.String() {
		t.Errorf("expected ack correlation id %q, got %q", op.ID.String(), ack.OperationID)
	}
}

func TestRelay_MalformedOperationGetsFailureAck(t *testing.T) {
	addr, _ := startTestRelay(t)

	c1 := dialTestClient(t, addr, "doc1")
	defer c1.conn.Close()
	c1.recv(t)

	bad := proto.Operation{Kind: "bogus"}
	c1.send(transport.Envelope{Type: "operation", Operation: &bad, IsSync: true})

	ack := c1.recv(t)
	if ack.Type != "operation_ack" || ack.Success == nil || *ack.Success {
		t.Fatalf("expected failure ack for malformed operation, got %+v", ack)
	}
	if ack.Error == "" {
		t.Error("expected an error message on the failure ack")
	}
}

func TestRelay_OccupancyAccounting(t *testing.T) {
	addr, registry := startTestRelay(t)

	c1 := dialTestClient(t, addr, "doc1")
	c1.recv(t)

	waitForOccupancy(t, registry, "doc1", 1)

	c2 := dialTestClient(t, addr, "doc1")
	c2.recv(t) // join broadcast at count=2
	waitForOccupancy(t, registry, "doc1", 2)

	c1.conn.Close()
	waitForOccupancy(t, registry, "doc1", 1)

	c2.conn.Close()
	waitForOccupancy(t, registry, "doc1", 0)
}

func waitForOccupancy(t *testing.T, r *Registry, docID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Occupancy(docID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("occupancy for %s never reached %d, got %d", docID, want, r.Occupancy(docID))
}

func TestRelay_Healthz(t *testing.T) {
	registry := NewRegistry(0, nil)
	server := NewServer(registry)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("expected ok status body, got %s", rec.Body.String())
	}
}
