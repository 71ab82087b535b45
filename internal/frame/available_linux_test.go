package frame

import (
	"net"
	"strings"
	"testing"
	"time"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })

	server, err = ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return client, server
}

func waitQueued(t *testing.T, conn net.Conn, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for available(conn) < want {
		if time.Now().After(deadline) {
			t.Fatalf("available() = %d, want %d", available(conn), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSocketAvailable_ReportsQueuedBytes(t *testing.T) {
	client, server := tcpPair(t)

	if n := available(server); n != 0 {
		t.Fatalf("available() on idle socket = %d, want 0", n)
	}
	if _, err := client.Write([]byte("GET / HTTP/1.1\r\n")); err != nil {
		t.Fatal(err)
	}
	waitQueued(t, server, len("GET / HTTP/1.1\r\n"))
}

// smallReads caps every read while keeping the socket reachable through
// the embedded *net.TCPConn's SyscallConn.
type smallReads struct {
	*net.TCPConn
	max int
}

func (c smallReads) Read(p []byte) (int, error) {
	if len(p) > c.max {
		p = p[:c.max]
	}
	return c.TCPConn.Read(p)
}

func TestReadRequest_TCPQueuedWritesAreJoined(t *testing.T) {
	client, server := tcpPair(t)

	parts := []string{"GET /a HTTP/1.1\r\n", "Host: example.com\r\n", "Accept: */*\r\n\r\n"}
	for _, p := range parts {
		if _, err := client.Write([]byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	want := strings.Join(parts, "")
	waitQueued(t, server, len(want))

	// Every short read is followed by more queued bytes, so the reader keeps
	// going until the socket is drained.
	src := smallReads{TCPConn: server.(*net.TCPConn), max: 8}
	got, err := NewReader(8192, 2*time.Second).ReadRequest(src)
	if err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	if string(got) != want {
		t.Errorf("ReadRequest() = %q, want %q", got, want)
	}
}
