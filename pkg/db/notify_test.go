package db

import (
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestPumpCoalescesNotifications(t *testing.T) {
	notify := make(chan *pq.Notification, 3)
	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		pump(notify, wake, done, time.Hour, func() error { return nil })
		close(exited)
	}()

	for i := 0; i < 3; i++ {
		notify <- &pq.Notification{Channel: "outbox_events"}
	}

	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("expected a wake-up")
	}

	// A reconnect arrives as a nil notification and must still wake.
	notify <- nil
	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("expected a wake-up after reconnect")
	}

	close(done)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestPumpStopsWhenNotifyCloses(t *testing.T) {
	notify := make(chan *pq.Notification)
	exited := make(chan struct{})
	go func() {
		pump(notify, make(chan struct{}, 1), make(chan struct{}), time.Hour, func() error { return nil })
		close(exited)
	}()
	close(notify)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}
}

func TestPumpPingsOnInterval(t *testing.T) {
	pinged := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)
	go pump(make(chan *pq.Notification), make(chan struct{}, 1), done, 5*time.Millisecond, func() error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	select {
	case <-pinged:
	case <-time.After(time.Second):
		t.Fatal("expected a keepalive ping")
	}
}
