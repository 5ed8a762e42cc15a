package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/fireline/dispatch/internal/transport"
)

func TestSendRecvRoundTrip(t *testing.T) {
	server, err := transport.Bind(0)
	if err != nil {
		t.Fatalf("Bind server: %v", err)
	}
	defer server.Close()
	serverPort := server.LocalPort()

	client, err := transport.Bind(0)
	if err != nil {
		t.Fatalf("Bind client: %v", err)
	}
	defer client.Close()

	if err := client.Send(serverPort, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		line, ok, err := server.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if ok {
			if line != "hello" {
				t.Fatalf("Recv = %q, want %q", line, "hello")
			}
			return
		}
		if ctx.Err() != nil {
			t.Fatal("timed out waiting for datagram")
		}
	}
}

func TestRecvTimesOutBounded(t *testing.T) {
	ep, err := transport.Bind(0)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	start := time.Now()
	_, ok, err := ep.Recv(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ok {
		t.Fatal("Recv on an idle socket should time out, not succeed")
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("Recv took %v, want a bounded (~200ms) timeout", elapsed)
	}
}

func TestRecvHonoursCancelledContext(t *testing.T) {
	ep, err := transport.Bind(0)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := ep.Recv(ctx)
	if ok {
		t.Fatal("Recv should not succeed on a cancelled context")
	}
	if err == nil {
		t.Fatal("Recv should return the context error when already cancelled")
	}
}
