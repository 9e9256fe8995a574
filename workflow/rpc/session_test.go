package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestCreateSessionPushesInitialPing(t *testing.T) {
	s := NewSessionManager()
	stream := s.CreateSession(context.Background(), "client-1")

	select {
	case f := <-stream:
		if f.Method != "ping" {
			t.Fatalf("expected initial ping, got method %q", f.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial ping")
	}
}

func TestSendRequestNotConnected(t *testing.T) {
	s := NewSessionManager()
	_, err := s.SendRequest(context.Background(), "ghost", "tools/call", nil)
	if _, ok := err.(*NotConnectedError); !ok {
		t.Fatalf("expected NotConnectedError, got %v", err)
	}
}

func TestSendRequestCorrelatesResponse(t *testing.T) {
	s := NewSessionManager(WithDefaultTimeout(time.Second))
	stream := s.CreateSession(context.Background(), "client-1")
	<-stream // drain initial ping

	done := make(chan struct{})
	var result map[string]interface{}
	var rerr error
	go func() {
		result, rerr = s.SendRequest(context.Background(), "client-1", "tools/call", map[string]interface{}{"x": 1})
		close(done)
	}()

	var frame Frame
	select {
	case frame = <-stream:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed request")
	}
	if frame.Method != "tools/call" || frame.ID == "" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	resultJSON, _ := json.Marshal(map[string]interface{}{"ok": true})
	respRaw, _ := json.Marshal(Frame{JSONRPC: "2.0", ID: frame.ID, Result: resultJSON})
	matched, err := s.HandleResponse(respRaw)
	if err != nil || !matched {
		t.Fatalf("HandleResponse: matched=%v err=%v", matched, err)
	}

	<-done
	if rerr != nil {
		t.Fatalf("SendRequest returned error: %v", rerr)
	}
	if result["ok"] != true {
		t.Fatalf("unexpected result: %+v", result)
	}

	s.mu.RLock()
	_, stillPending := s.pending[frame.ID]
	s.mu.RUnlock()
	if stillPending {
		t.Fatal("pending entry not removed after completion (P7)")
	}
}

func TestSendRequestErrorResponse(t *testing.T) {
	s := NewSessionManager(WithDefaultTimeout(time.Second))
	stream := s.CreateSession(context.Background(), "client-1")
	<-stream

	done := make(chan struct{})
	var rerr error
	go func() {
		_, rerr = s.SendRequest(context.Background(), "client-1", "tools/call", nil)
		close(done)
	}()

	frame := <-stream
	respRaw, _ := json.Marshal(Frame{JSONRPC: "2.0", ID: frame.ID, Error: &RPCError{Code: -32601, Message: "unknown method"}})
	if _, err := s.HandleResponse(respRaw); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	<-done
	jerr, ok := rerr.(*JSONRPCError)
	if !ok {
		t.Fatalf("expected *JSONRPCError, got %v", rerr)
	}
	if jerr.Code != -32601 {
		t.Fatalf("unexpected code: %d", jerr.Code)
	}
}

func TestSendRequestTimeout(t *testing.T) {
	s := NewSessionManager(WithDefaultTimeout(20 * time.Millisecond))
	stream := s.CreateSession(context.Background(), "client-1")
	<-stream

	_, err := s.SendRequest(context.Background(), "client-1", "tools/call", nil)
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected TimeoutError, got %v", err)
	}

	s.mu.RLock()
	n := len(s.pending)
	s.mu.RUnlock()
	if n != 0 {
		t.Fatalf("expected no pending requests after timeout, got %d", n)
	}
}

func TestCloseAbandonsPendingRequests(t *testing.T) {
	s := NewSessionManager(WithDefaultTimeout(time.Second))
	stream := s.CreateSession(context.Background(), "client-1")
	<-stream

	done := make(chan struct{})
	var rerr error
	go func() {
		_, rerr = s.SendRequest(context.Background(), "client-1", "tools/call", nil)
		close(done)
	}()

	<-stream // the pushed request frame
	s.Close("client-1")
	<-done

	if rerr == nil {
		t.Fatal("expected an error after session close")
	}
	if s.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close, got %d", s.ClientCount())
	}
}

func TestCreateSessionContextCancelCleansUp(t *testing.T) {
	s := NewSessionManager()
	ctx, cancel := context.WithCancel(context.Background())
	s.CreateSession(ctx, "client-1")
	if s.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", s.ClientCount())
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for s.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.ClientCount() != 0 {
		t.Fatal("expected session to be torn down after context cancel")
	}
}

func TestSendNotificationNotConnected(t *testing.T) {
	s := NewSessionManager()
	err := s.SendNotification("ghost", "progress", nil)
	if _, ok := err.(*NotConnectedError); !ok {
		t.Fatalf("expected NotConnectedError, got %v", err)
	}
}

func TestHandleResponseUnmatchedIDDrops(t *testing.T) {
	s := NewSessionManager()
	raw, _ := json.Marshal(Frame{JSONRPC: "2.0", ID: "does-not-exist", Result: json.RawMessage(`{}`)})
	matched, err := s.HandleResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matched {
		t.Fatal("expected no match for unknown id")
	}
}
