package panel_test

import (
	"context"
	"testing"
	"time"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/connection"
	"github.com/g960059/qsyspanel/internal/panel"
	"github.com/g960059/qsyspanel/internal/qrwc"
	"github.com/g960059/qsyspanel/internal/testutil"
)

func coreSession() *testutil.FakeSession {
	sess := testutil.NewFakeSession()
	sess.AddComponent("testEQ", boolControl("bypass", false), floatControl("frequency.1", 500), floatControl("gain.1", 0))
	sess.AddComponent("Gain", floatControl("gain", -20), boolControl("mute", false))
	sess.AddComponent("videoDecoder", testutil.FakeControl{Name: "hdmi.out.1.select.index", ValueMin: 0, ValueMax: 4})
	return sess
}

func newHub(t *testing.T) *panel.Hub {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WriteTimeout = time.Second
	hub := panel.NewHub(cfg, nil, nil)
	t.Cleanup(hub.Close)
	return hub
}

func TestHubRebindsOnEveryNewSession(t *testing.T) {
	hub := newHub(t)
	first := coreSession()
	hub.Follow(connection.Handle{Connected: true, Session: first, Generation: 1})

	snap := hub.Snapshot()
	if !snap.Connected || snap.Generation != 1 || !snap.EQ.Available || !snap.Gain.Available {
		t.Fatalf("expected bound panels, got connected=%v eq=%v gain=%v", snap.Connected, snap.EQ.Available, snap.Gain.Available)
	}
	if snap.Compressor.Available {
		t.Fatalf("compressor component is absent and must stay unavailable")
	}

	hub.Follow(connection.Handle{Generation: 1})
	if snap := hub.Snapshot(); snap.Connected || snap.EQ.Available {
		t.Fatalf("expected unbound panels after disconnect")
	}
	if n := first.Fake("testEQ").Subscribers(); n != 0 {
		t.Fatalf("old session still has %d subscribers", n)
	}

	second := coreSession()
	hub.Follow(connection.Handle{Connected: true, Session: second, Generation: 2})
	first.Fake("Gain").Emit("gain", 6, "")
	if got := hub.Snapshot().Gain.Gain; got != -20 {
		t.Fatalf("stale session update leaked into state: %v", got)
	}
	second.Fake("Gain").Emit("gain", -3, "")
	if got := hub.Snapshot().Gain.Gain; got != -3 {
		t.Fatalf("expected update from current session, got %v", got)
	}
}

func TestHubIgnoresRepeatedHandle(t *testing.T) {
	hub := newHub(t)
	sess := coreSession()
	h := connection.Handle{Connected: true, Session: sess, Generation: 1}
	hub.Follow(h)
	before := sess.Fake("testEQ").Subscribers()
	version := hub.Version()
	hub.Follow(h)
	if sess.Fake("testEQ").Subscribers() != before || hub.Version() != version {
		t.Fatalf("a repeated handle must not rebind")
	}
}

func TestHubWaitReturnsAfterChange(t *testing.T) {
	hub := newHub(t)
	hub.Follow(connection.Handle{Connected: true, Session: coreSession(), Generation: 1})
	version := hub.Version()

	done := make(chan panel.Snapshot, 1)
	go func() {
		snap, err := hub.Wait(context.Background(), version)
		if err == nil {
			done <- snap
		}
	}()
	hub.Gain.SetMute(true)
	select {
	case snap := <-done:
		if snap.Version <= version || !snap.Gain.Muted {
			t.Fatalf("unexpected snapshot after wait: version=%d muted=%v", snap.Version, snap.Gain.Muted)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("wait did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := hub.Wait(ctx, hub.Version()); err == nil {
		t.Fatalf("expected context error without changes")
	}
}

func TestHubWatchDeliversSnapshots(t *testing.T) {
	hub := newHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Watch(ctx)
	hub.Follow(connection.Handle{Connected: true, Session: coreSession(), Generation: 3})
	select {
	case snap := <-ch:
		if snap.Version == 0 {
			t.Fatalf("expected a versioned snapshot")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("watch delivered nothing")
	}
	cancel()
	for range ch {
	}
}

func TestHubFollowsConnectionManager(t *testing.T) {
	hub := newHub(t)
	sess := coreSession()
	cfg := config.DefaultConfig()
	cfg.CoreHost = "10.0.0.5"
	dial := func(context.Context) (qrwc.Session, error) { return sess, nil }
	noRetry := connection.WithScheduler(func(time.Duration, func()) func() { return func() {} })
	mgr := connection.NewManager(cfg, dial, nil, noRetry)
	t.Cleanup(func() { _ = mgr.Close() })

	hub.Attach(mgr)
	if hub.Snapshot().Connected {
		t.Fatalf("hub should start disconnected")
	}
	if _, err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if snap := hub.Snapshot(); !snap.Connected || !snap.EQ.Available {
		t.Fatalf("expected panels bound after connect")
	}

	if err := hub.Video.Assign(1, 0); err != nil {
		t.Fatalf("assign: %v", err)
	}
	hub.Flush()
	if w := sess.Fake("videoDecoder").WritesTo("hdmi.out.1.select.index"); len(w) != 1 || w[0] != 1 {
		t.Fatalf("expected routed write through hub, got %v", w)
	}

	sess.Disconnect()
	if snap := hub.Snapshot(); snap.Connected || snap.Gain.Available {
		t.Fatalf("expected panels unbound after disconnect")
	}
}
