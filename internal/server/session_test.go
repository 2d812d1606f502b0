package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/umbradb/umbra/internal/logger"
)

// startSession wires a Session to an in-memory pipe and returns the client
// side plus a channel closed when the session loop exits
func startSession(t *testing.T, bufSize int) (net.Conn, chan struct{}) {
	t.Helper()

	client, server := net.Pipe()
	engine := setupEngine()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSession(server, bufSize, logger.New("error", "console")).Serve(engine)
	}()

	t.Cleanup(func() {
		client.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not terminate")
		}
	})

	return client, done
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return line
}

func TestSessionBasicExchange(t *testing.T) {
	client, _ := startSession(t, 1024)
	r := bufio.NewReader(client)

	client.Write([]byte("*1\r\n$4\r\nPING\r\n"))
	if got := readLine(t, r); got != "+PONG\r\n" {
		t.Errorf("PING reply = %q", got)
	}

	client.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))
	if got := readLine(t, r); got != "+OK\r\n" {
		t.Errorf("SET reply = %q", got)
	}

	client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"))
	if got := readLine(t, r); got != "$1\r\n" {
		t.Errorf("GET header = %q", got)
	}
	if got := readLine(t, r); got != "v\r\n" {
		t.Errorf("GET payload = %q", got)
	}
}

// one write carrying several frames must produce one reply per frame, in order
func TestSessionPipelinedFrames(t *testing.T) {
	client, _ := startSession(t, 1024)
	r := bufio.NewReader(client)

	client.Write([]byte(
		"*1\r\n$4\r\nPING\r\n" +
			"*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$2\r\nhi\r\n" +
			"*2\r\n$3\r\nGET\r\n$1\r\nk\r\n" +
			"*2\r\n$4\r\nINCR\r\n$1\r\nc\r\n"))

	want := []string{"+PONG\r\n", "+OK\r\n", "$2\r\n", "hi\r\n", ":1\r\n"}
	for i, w := range want {
		if got := readLine(t, r); got != w {
			t.Fatalf("reply %d = %q, want %q", i, got, w)
		}
	}
}

// frames split at arbitrary byte boundaries must decode exactly once each
func TestSessionSplitFrames(t *testing.T) {
	payload := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$5\r\nhello\r\n" +
		"*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"

	for _, chunk := range []int{1, 2, 3, 7, 11} {
		t.Run(fmt.Sprintf("chunk-%d", chunk), func(t *testing.T) {
			client, _ := startSession(t, 1024)
			r := bufio.NewReader(client)

			go func() {
				for i := 0; i < len(payload); i += chunk {
					end := min(i+chunk, len(payload))
					if _, err := client.Write([]byte(payload[i:end])); err != nil {
						return
					}
				}
			}()

			want := []string{"+OK\r\n", "$5\r\n", "hello\r\n"}
			for i, w := range want {
				if got := readLine(t, r); got != w {
					t.Fatalf("reply %d = %q, want %q", i, got, w)
				}
			}
		})
	}
}

// a frame bigger than the receive buffer must grow the arena, not wedge or EOF
func TestSessionFrameLargerThanBuffer(t *testing.T) {
	client, _ := startSession(t, 16)
	r := bufio.NewReader(client)

	big := strings.Repeat("v", 300)
	client.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$300\r\n" + big + "\r\n"))
	if got := readLine(t, r); got != "+OK\r\n" {
		t.Fatalf("SET reply = %q", got)
	}

	client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"))
	if got := readLine(t, r); got != "$300\r\n" {
		t.Fatalf("GET header = %q", got)
	}
	payload := readLine(t, r)
	if payload != big+"\r\n" {
		t.Errorf("GET payload length = %d, want %d", len(payload)-2, len(big))
	}
}

// a stored value must survive the receive buffer being overwritten by later
// traffic on the same connection
func TestSessionStoredValueDetachedFromBuffer(t *testing.T) {
	client, _ := startSession(t, 1024)
	r := bufio.NewReader(client)

	client.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$5\r\nfirst\r\n"))
	readLine(t, r)

	// overwrite the buffer region with a different command and payload
	client.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nj\r\n$5\r\nother\r\n"))
	readLine(t, r)

	client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"))
	readLine(t, r)
	if got := readLine(t, r); got != "first\r\n" {
		t.Errorf("stored value corrupted by buffer reuse: %q", got)
	}
}

func TestSessionMalformedFrameClosesConnection(t *testing.T) {
	client, done := startSession(t, 1024)
	r := bufio.NewReader(client)

	client.Write([]byte("*1\r\n:5\r\n"))

	reply := readLine(t, r)
	if !strings.HasPrefix(reply, "-ERR Protocol error") {
		t.Errorf("expected protocol error reply, got %q", reply)
	}

	// the session must close the transport after an unrecoverable frame
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session still alive after protocol error")
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF after close, got %v", err)
	}
}

func TestSessionUnknownCommandKeepsConnection(t *testing.T) {
	client, _ := startSession(t, 1024)
	r := bufio.NewReader(client)

	client.Write([]byte("*1\r\n$5\r\nFLURB\r\n"))
	if got := readLine(t, r); !strings.HasPrefix(got, "-ERR unknown command") {
		t.Errorf("unknown command reply = %q", got)
	}

	// connection still usable
	client.Write([]byte("*1\r\n$4\r\nPING\r\n"))
	if got := readLine(t, r); got != "+PONG\r\n" {
		t.Errorf("PING after unknown command = %q", got)
	}
}
