package udpserver

import (
	"context"
	"net"
	"testing"
	"time"
)

type fakeResolver struct {
	endpoint string
	found    bool
}

func (r fakeResolver) Resolve(modelSessionID string) (string, bool) {
	return r.endpoint, r.found
}

func startTestServer(t *testing.T, resolver BackendResolver) (*Server, *net.UDPConn, func()) {
	t.Helper()
	s := New(Config{ListenAddr: "127.0.0.1:0", NumWorkers: 2, QueueDepth: 8}, resolver, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	client, err := net.DialUDP("udp", nil, s.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		cancel()
		t.Fatalf("dial failed: %v", err)
	}
	return s, client, func() {
		client.Close()
		cancel()
		s.Stop()
	}
}

func TestServerResolvesAndReplies(t *testing.T) {
	_, client, cleanup := startTestServer(t, fakeResolver{endpoint: "10.0.0.5:9000", found: true})
	defer cleanup()

	client.Write(encodeRequest(1, "model-a"))

	buf := make([]byte, MaxPayloadBytes)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	reply := decodeReply(t, buf[:n])
	if reply.Status != StatusOK || reply.BackendEndpoint != "10.0.0.5:9000" || reply.RequestID != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestServerRepliesNotFoundForUnknownSession(t *testing.T) {
	_, client, cleanup := startTestServer(t, fakeResolver{found: false})
	defer cleanup()

	client.Write(encodeRequest(2, "unknown"))

	buf := make([]byte, MaxPayloadBytes)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	reply := decodeReply(t, buf[:n])
	if reply.Status != StatusNotFound {
		t.Fatalf("expected StatusNotFound, got %v", reply.Status)
	}
}

func TestServerRepliesParseErrorForGarbage(t *testing.T) {
	_, client, cleanup := startTestServer(t, fakeResolver{found: true})
	defer cleanup()

	client.Write([]byte{0x01, 0x02})

	buf := make([]byte, MaxPayloadBytes)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	reply := decodeReply(t, buf[:n])
	if reply.Status != StatusParseError {
		t.Fatalf("expected StatusParseError, got %v", reply.Status)
	}
}

func TestServerSnapshotCountsActivity(t *testing.T) {
	s, client, cleanup := startTestServer(t, fakeResolver{endpoint: "b", found: true})
	defer cleanup()

	client.Write(encodeRequest(1, "m"))
	buf := make([]byte, MaxPayloadBytes)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	client.Read(buf)

	snap := s.Snapshot()
	if snap.Received != 1 || snap.Replied != 1 {
		t.Fatalf("expected received=1 replied=1, got %+v", snap)
	}
}

func decodeReply(t *testing.T, buf []byte) Reply {
	t.Helper()
	if len(buf) < 11 {
		t.Fatalf("reply too short: %d bytes", len(buf))
	}
	id := beUint64(buf[0:8])
	status := Status(buf[8])
	n := beUint16(buf[9:11])
	return Reply{RequestID: id, Status: status, BackendEndpoint: string(buf[11 : 11+int(n)])}
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
