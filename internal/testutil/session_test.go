package testutil

import (
	"errors"
	"testing"
)

func TestFakeSessionObserversRegisteredDuringDeliveryWaitForNextEvent(t *testing.T) {
	sess := NewFakeSession()
	var first, late int
	sess.OnDisconnected(func() {
		first++
		sess.OnDisconnected(func() { late++ })
	})

	sess.Disconnect()
	if first != 1 || late != 0 {
		t.Fatalf("first delivery: first=%d late=%d", first, late)
	}
	sess.Disconnect()
	if first != 2 || late != 1 {
		t.Fatalf("second delivery: first=%d late=%d", first, late)
	}
}

func TestFakeSessionFailReachesEveryErrorObserver(t *testing.T) {
	sess := NewFakeSession()
	want := errors.New("socket reset")
	var got []error
	sess.OnError(func(err error) { got = append(got, err) })
	sess.OnError(func(err error) {
		got = append(got, err)
		sess.OnError(func(error) { t.Fatalf("observer added during delivery ran early") })
	})

	sess.Fail(want)
	if len(got) != 2 || !errors.Is(got[0], want) || !errors.Is(got[1], want) {
		t.Fatalf("unexpected deliveries %v", got)
	}
}
