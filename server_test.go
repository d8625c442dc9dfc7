package gows

import (
	"context"
	"net"
	"testing"
	"time"
)

type echoTestHandler struct {
	BaseHandler
}

func (echoTestHandler) Init(*ConnView, any) (any, error) { return nil, nil }

func (echoTestHandler) HandleText(_ *ConnView, payload []byte, state any) Result {
	return Reply(payload, state)
}

func (echoTestHandler) HandleBinary(_ *ConnView, payload []byte, state any) Result {
	return Reply(payload, state)
}

// TestServer_EchoOverRealSocket drives ServeListener over a real TCP
// socket end to end: handshake, a text echo round trip, and a
// client-initiated close.
func TestServer_EchoOverRealSocket(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ServeListener(ctx, ln, echoTestHandler{}, nil) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(handshakeRequest)); err != nil {
		t.Fatalf("write handshake: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if got := string(buf[:n]); got[:12] != "HTTP/1.1 101" {
		t.Fatalf("expected a 101 response, got %q", got)
	}

	echoFrame := encodeClientFrame(OpText, []byte("ping"), true)
	if _, err := conn.Write(echoFrame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	n, err = conn.Read(buf)
	if err != nil {
		t.Fatalf("read echo: %v", err)
	}
	frames, _, err := DecodeFrames(buf[:n])
	if err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if len(frames) != 1 || string(frames[0].Payload) != "ping" {
		t.Fatalf("expected echoed 'ping', got %+v", frames)
	}

	closeFrame := encodeClientFrame(OpClose, nil, true)
	if _, err := conn.Write(closeFrame); err != nil {
		t.Fatalf("write close: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeListener returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ServeListener to return")
	}
}

func TestListen_BindsEphemeralPort(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("expected a *net.TCPAddr, got %T", ln.Addr())
	}
	if addr.Port == 0 {
		t.Fatal("expected a real ephemeral port to be bound")
	}
}
