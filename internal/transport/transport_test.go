package transport

import (
	"context"
	"testing"
	"time"
)

func TestSwitchRoundTrip(t *testing.T) {
	sw := NewSwitch()
	a, err := sw.Listen("a")
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := sw.Listen("b")
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}

	if err := a.Send("b", []byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}
	from, data, ok := b.RecvFrom(context.Background())
	if !ok {
		t.Fatal("recv failed")
	}
	if from != "a" || string(data) != "ping" {
		t.Errorf("got from=%s data=%q", from, data)
	}
}

func TestTryRecvNonBlocking(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("a")
	b, _ := sw.Listen("b")

	if _, _, ok := b.TryRecvFrom(); ok {
		t.Error("try-recv on empty inbox returned a frame")
	}
	a.Send("b", []byte("x"))
	if _, _, ok := b.TryRecvFrom(); !ok {
		t.Error("try-recv missed a queued frame")
	}
	b.Close()
	if _, _, ok := b.TryRecvFrom(); ok {
		t.Error("try-recv on closed endpoint returned a frame")
	}
}

func TestSwitchAddressClaims(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("a")
	if _, err := sw.Listen("a"); err == nil {
		t.Error("double listen succeeded")
	}
	a.Close()
	if _, err := sw.Listen("a"); err != nil {
		t.Errorf("relisten after close: %v", err)
	}
}

func TestSendToUnknownAddr(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("a")
	if err := a.Send("ghost", []byte("x")); err == nil {
		t.Error("send to unknown address succeeded")
	}
}

func TestClosedEndpoint(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("a")
	b, _ := sw.Listen("b")
	a.Close()
	a.Close() // idempotent

	if err := a.Send("b", []byte("x")); err == nil {
		t.Error("send on closed endpoint succeeded")
	}
	if _, _, ok := a.RecvFrom(context.Background()); ok {
		t.Error("recv on closed endpoint succeeded")
	}

	// Sends to the vacated address fail.
	if err := b.Send("a", []byte("x")); err == nil {
		t.Error("send to closed address succeeded")
	}
}

func TestRecvHonorsContext(t *testing.T) {
	sw := NewSwitch()
	a, _ := sw.Listen("a")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, ok := a.RecvFrom(ctx); ok {
		t.Error("recv returned a frame on an empty inbox")
	}
}

// TestChaosLossIsSeeded: with a fixed seed, the same frames are dropped on
// every run, and the drop rate over many sends tracks the configured
// probability.
func TestChaosLossIsSeeded(t *testing.T) {
	run := func() (delivered int, dropped uint64) {
		sw := NewSwitch()
		src, _ := sw.Listen("src")
		dst, _ := sw.Listen("dst")
		ep := WrapChaos(src, ChaosConfig{Loss: 0.3, Seed: 42})
		for i := 0; i < 100; i++ {
			if err := ep.Send("dst", []byte{byte(i)}); err != nil {
				t.Fatalf("send %d: %v", i, err)
			}
		}
		for {
			if _, _, ok := dst.TryRecvFrom(); !ok {
				break
			}
			delivered++
		}
		return delivered, ep.Dropped()
	}

	d1, l1 := run()
	d2, l2 := run()
	if d1 != d2 || l1 != l2 {
		t.Errorf("seeded runs diverged: %d/%d vs %d/%d", d1, l1, d2, l2)
	}
	if d1+int(l1) != 100 {
		t.Errorf("delivered %d + dropped %d != 100", d1, l1)
	}
	if l1 < 15 || l1 > 45 {
		t.Errorf("drop count %d far from 30%% of 100", l1)
	}
}

func TestChaosDuplication(t *testing.T) {
	sw := NewSwitch()
	src, _ := sw.Listen("src")
	dst, _ := sw.Listen("dst")
	ep := WrapChaos(src, ChaosConfig{Dup: 1.0, Seed: 1})

	if err := ep.Send("dst", []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	count := 0
	for {
		if _, _, ok := dst.TryRecvFrom(); !ok {
			break
		}
		count++
	}
	if count != 2 {
		t.Errorf("got %d copies, want 2", count)
	}
	if ep.Duplicated() != 1 {
		t.Errorf("duplicated = %d, want 1", ep.Duplicated())
	}
}

func TestChaosZeroConfigPassthrough(t *testing.T) {
	sw := NewSwitch()
	src, _ := sw.Listen("src")
	dst, _ := sw.Listen("dst")
	ep := WrapChaos(src, ChaosConfig{Seed: 1})

	for i := 0; i < 10; i++ {
		if err := ep.Send("dst", []byte{byte(i)}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		_, data, ok := dst.RecvFrom(context.Background())
		if !ok {
			t.Fatalf("recv %d failed", i)
		}
		if data[0] != byte(i) {
			t.Errorf("frame %d out of order: got %d", i, data[0])
		}
	}
}
