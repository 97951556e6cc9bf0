package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitClosed(t *testing.T, b *Bridge) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("bridge did not close, state %s", b.State())
	}
}

func TestPumpOnce_ForwardsRemoteOutputToClient(t *testing.T) {
	session := newFakeSession("hello")
	client := newFakeClient()
	b := New(session, Options{})
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("pump: %v", err)
	}

	sent, _, _ := client.snapshot()
	if len(sent) != 1 || string(sent[0]) != "hello" {
		t.Fatalf("expected exactly one send of %q, got %q", "hello", sent)
	}

	// Nothing more to read: no further sends.
	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("second pump: %v", err)
	}
	sent, _, _ = client.snapshot()
	if len(sent) != 1 {
		t.Errorf("expected no further sends, got %q", sent)
	}
	if got := b.Stats().BytesToClient; got != 5 {
		t.Errorf("expected 5 bytes to client, got %d", got)
	}
}

func TestPumpOnce_JoinsQueuedInputInOneWrite(t *testing.T) {
	session := newFakeSession()
	b := New(session, Options{})
	if err := b.AttachClient(newFakeClient()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	b.EnqueueOutbound([]byte("ls"))
	b.EnqueueOutbound([]byte("\n"))
	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("pump: %v", err)
	}

	writes, _, _ := session.snapshot()
	if len(writes) != 1 || string(writes[0]) != "ls\n" {
		t.Fatalf("expected one write of %q, got %q", "ls\n", writes)
	}
	b.mu.Lock()
	queued := len(b.queue)
	b.mu.Unlock()
	if queued != 0 {
		t.Errorf("expected empty queue after pump, got %d entries", queued)
	}

	// Empty queue skips the write step.
	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("second pump: %v", err)
	}
	writes, _, _ = session.snapshot()
	if len(writes) != 1 {
		t.Errorf("expected no write for an empty queue, got %q", writes)
	}
}

func TestPumpOnce_PreservesFIFOOrder(t *testing.T) {
	session := newFakeSession()
	b := New(session, Options{})

	var want strings.Builder
	for i := 0; i < 50; i++ {
		chunk := fmt.Sprintf("<%d>", i)
		want.WriteString(chunk)
		b.EnqueueOutbound([]byte(chunk))
	}
	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("pump: %v", err)
	}

	writes, _, _ := session.snapshot()
	if len(writes) != 1 {
		t.Fatalf("expected one write, got %d", len(writes))
	}
	if string(writes[0]) != want.String() {
		t.Errorf("expected %q, got %q", want.String(), writes[0])
	}
}

func TestEnqueueOutbound_CopiesInput(t *testing.T) {
	session := newFakeSession()
	b := New(session, Options{})

	buf := []byte("abc")
	b.EnqueueOutbound(buf)
	buf[0] = 'X'

	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("pump: %v", err)
	}
	writes, _, _ := session.snapshot()
	if len(writes) != 1 || string(writes[0]) != "abc" {
		t.Errorf("expected caller mutation not to leak, got %q", writes)
	}
}

func TestPumpOnce_DropsOutputBeforeAttach(t *testing.T) {
	session := newFakeSession("login banner")
	b := New(session, Options{})

	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("pump in created state should not fail: %v", err)
	}
	if b.State() != StateCreated {
		t.Errorf("expected state created, got %s", b.State())
	}
	if got := b.Stats().DroppedBytes; got != int64(len("login banner")) {
		t.Errorf("expected dropped bytes counted, got %d", got)
	}

	client := newFakeClient()
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("pump: %v", err)
	}
	if sent, _, _ := client.snapshot(); len(sent) != 0 {
		t.Errorf("dropped output must not be replayed, got %q", sent)
	}
}

func TestClose_Idempotent(t *testing.T) {
	r := NewRegistry()
	session := newFakeSession()
	client := newFakeClient()

	var hookCalls int
	var hookMu sync.Mutex
	b := New(session, Options{OnClose: func(*Bridge) {
		hookMu.Lock()
		hookCalls++
		hookMu.Unlock()
	}})
	id, err := r.Register(b)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Consume(id); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Close("test close")
		}()
	}
	wg.Wait()
	b.Close("again")

	_, _, sessionCloses := session.snapshot()
	if sessionCloses != 1 {
		t.Errorf("expected remote closed once, got %d", sessionCloses)
	}
	_, clientCloses, reason := client.snapshot()
	if clientCloses != 1 {
		t.Errorf("expected client closed once, got %d", clientCloses)
	}
	if reason != "test close" {
		t.Errorf("expected close reason %q, got %q", "test close", reason)
	}
	if r.Len() != 0 {
		t.Errorf("expected registry empty after close, got %d", r.Len())
	}
	hookMu.Lock()
	if hookCalls != 1 {
		t.Errorf("expected close hook once, got %d", hookCalls)
	}
	hookMu.Unlock()
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if got := b.Stats().CloseReason; got != "test close" {
		t.Errorf("expected first reason kept, got %q", got)
	}
}

func TestClose_WithoutClient(t *testing.T) {
	session := newFakeSession()
	b := New(session, Options{})

	b.Close("setup failed")

	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if _, _, closes := session.snapshot(); closes != 1 {
		t.Errorf("expected remote closed once, got %d", closes)
	}
	waitClosed(t, b)
}

func TestClose_SkipsAlreadyClosedSides(t *testing.T) {
	session := newFakeSession()
	session.Close()
	client := newFakeClient()
	b := New(session, Options{})
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}
	client.disconnect()

	b.Close("both gone")

	if _, _, closes := session.snapshot(); closes != 1 {
		t.Errorf("expected no second remote close, got %d calls", closes)
	}
	if _, closes, _ := client.snapshot(); closes != 0 {
		t.Errorf("expected disconnected client not closed again, got %d calls", closes)
	}
}

func TestPumpOnce_WriteFailureIsTerminal(t *testing.T) {
	session := newFakeSession()
	session.writeErr = errors.New("broken pipe")
	client := newFakeClient()
	b := New(session, Options{})
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	b.EnqueueOutbound([]byte("whoami\n"))
	err := b.PumpOnce(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after write failure, got %s", b.State())
	}
	if _, _, reason := client.snapshot(); reason != ReasonRemoteWrite {
		t.Errorf("expected client closed with %q, got %q", ReasonRemoteWrite, reason)
	}

	_, readsBefore, _ := session.snapshot()
	session.push("late output")
	b.EnqueueOutbound([]byte("more"))
	if err := b.PumpOnce(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from closed bridge, got %v", err)
	}
	_, readsAfter, _ := session.snapshot()
	if readsAfter != readsBefore {
		t.Errorf("closed bridge must not read, reads went %d -> %d", readsBefore, readsAfter)
	}
	if sent, _, _ := client.snapshot(); len(sent) != 0 {
		t.Errorf("closed bridge must not send, got %q", sent)
	}
}

func TestPumpOnce_RemoteEndClosesBridge(t *testing.T) {
	session := newFakeSession("last words")
	session.setReadErr(errFakeClosed)
	client := newFakeClient()
	b := New(session, Options{})
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := b.PumpOnce(context.Background()); err != nil {
		t.Fatalf("first pump should deliver data: %v", err)
	}
	err := b.PumpOnce(context.Background())
	if !errors.Is(err, ErrClosed) || !errors.Is(err, errFakeClosed) {
		t.Fatalf("expected ErrClosed wrapping the remote error, got %v", err)
	}

	sent, _, reason := client.snapshot()
	if len(sent) != 1 || string(sent[0]) != "last words" {
		t.Errorf("expected buffered output delivered before close, got %q", sent)
	}
	if reason != ReasonRemoteClosed {
		t.Errorf("expected reason %q, got %q", ReasonRemoteClosed, reason)
	}
}

func TestPumpOnce_SendFailureClosesBridge(t *testing.T) {
	session := newFakeSession("data")
	client := newFakeClient()
	client.sendErr = errors.New("socket reset")
	b := New(session, Options{})
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := b.PumpOnce(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if _, _, closes := session.snapshot(); closes != 1 {
		t.Errorf("expected remote closed once, got %d", closes)
	}
}

func TestAttachClient(t *testing.T) {
	b := New(newFakeSession(), Options{})
	if err := b.AttachClient(newFakeClient()); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if b.State() != StateAttached {
		t.Errorf("expected attached, got %s", b.State())
	}
	if err := b.AttachClient(newFakeClient()); !errors.Is(err, ErrAlreadyAttached) {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}

	closed := New(newFakeSession(), Options{})
	closed.Close("gone")
	if err := closed.AttachClient(newFakeClient()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed attaching to closed bridge, got %v", err)
	}
}

func TestServeClient_DisconnectClosesBridge(t *testing.T) {
	r := NewRegistry()
	session := newFakeSession()
	client := newFakeClient()
	b := New(session, Options{})
	id, err := r.Register(b)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Consume(id); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	served := make(chan struct{})
	go func() {
		defer close(served)
		b.ServeClient(context.Background())
	}()

	client.disconnect()
	waitClosed(t, b)
	<-served

	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if _, _, closes := session.snapshot(); closes != 1 {
		t.Errorf("expected remote closed exactly once, got %d", closes)
	}
	if r.Len() != 0 {
		t.Errorf("expected registry entry removed, got %d", r.Len())
	}
	if got := b.Stats().CloseReason; got != ReasonClientGone {
		t.Errorf("expected reason %q, got %q", ReasonClientGone, got)
	}
}

func TestRun_RelaysBothDirections(t *testing.T) {
	session := newFakeSession("$ ")
	client := newFakeClient()
	b := New(session, Options{PollInterval: time.Millisecond})
	if err := b.AttachClient(client); err != nil {
		t.Fatalf("attach: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	go b.ServeClient(ctx)

	client.inbound <- []byte("pwd")
	client.inbound <- []byte("\n")
	session.push("/root\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		writes, _, _ := session.snapshot()
		var written strings.Builder
		for _, w := range writes {
			written.Write(w)
		}
		sent, _, _ := client.snapshot()
		var received strings.Builder
		for _, s := range sent {
			received.Write(s)
		}
		if written.String() == "pwd\n" && received.String() == "$ /root\n" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("relay incomplete: remote got %q, client got %q", written.String(), received.String())
		}
		time.Sleep(2 * time.Millisecond)
	}

	b.Close("done")
	waitClosed(t, b)
}

func TestRun_ContextCancelClosesBridge(t *testing.T) {
	session := newFakeSession()
	b := New(session, Options{PollInterval: time.Millisecond})
	if err := b.AttachClient(newFakeClient()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		b.Run(ctx)
	}()
	cancel()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after cancel, got %s", b.State())
	}
	if got := b.Stats().CloseReason; got != ReasonServerShutdown {
		t.Errorf("expected reason %q, got %q", ReasonServerShutdown, got)
	}
}

func TestRun_ReturnsWhenClosedElsewhere(t *testing.T) {
	b := New(newFakeSession(), Options{PollInterval: time.Millisecond})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		b.Run(context.Background())
	}()

	b.Close("external")
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestEnqueueOutbound_ConcurrentWithPump(t *testing.T) {
	session := newFakeSession()
	b := New(session, Options{PollInterval: time.Millisecond})

	const (
		writers   = 8
		perWriter = 200
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(tag byte) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.EnqueueOutbound([]byte{tag})
			}
		}(byte('a' + w))
	}
	wg.Wait()

	deadline := time.Now().Add(5 * time.Second)
	for {
		writes, _, _ := session.snapshot()
		total := 0
		for _, w := range writes {
			total += len(w)
		}
		if total >= writers*perWriter {
			counts := make(map[byte]int)
			for _, w := range writes {
				for _, c := range w {
					counts[c]++
				}
			}
			for w := 0; w < writers; w++ {
				if got := counts[byte('a'+w)]; got != perWriter {
					t.Errorf("writer %c: expected %d bytes, got %d", 'a'+w, perWriter, got)
				}
			}
			if total != writers*perWriter {
				t.Errorf("expected %d bytes total, got %d", writers*perWriter, total)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d bytes written", total, writers*perWriter)
		}
		time.Sleep(2 * time.Millisecond)
	}
	b.Close("done")
}

func TestEnqueueOutbound_IgnoredAfterClose(t *testing.T) {
	session := newFakeSession()
	b := New(session, Options{})
	b.Close("closed")
	b.EnqueueOutbound([]byte("late"))

	b.mu.Lock()
	queued := len(b.queue)
	b.mu.Unlock()
	if queued != 0 {
		t.Errorf("expected input after close to be discarded, got %d entries", queued)
	}
}
