package db

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/angelmondragon/oakline-backend/pkg/logger"
)

const (
	listenMinReconnect = 2 * time.Second
	listenMaxReconnect = time.Minute
	listenPingInterval = 90 * time.Second
)

// NotifyListener turns Postgres NOTIFY on one channel into wake-ups. Bursts
// of notifications collapse into a single pending wake-up.
type NotifyListener struct {
	listener *pq.Listener
	wake     chan struct{}
	done     chan struct{}
}

// Listen opens a dedicated LISTEN connection on channel. It uses lib/pq's
// listener, which reconnects on its own and signals a reconnect with a nil
// notification so callers can re-check for work they may have missed.
func Listen(ctx context.Context, dsn, channel string, logg *logger.Logger) (*NotifyListener, error) {
	if dsn == "" || channel == "" {
		return nil, fmt.Errorf("dsn and channel are required")
	}
	ctx = logg.WithField(ctx, "channel", channel)
	report := func(event pq.ListenerEventType, err error) {
		switch event {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logg.Error(ctx, "notify listener connection lost", err)
		case pq.ListenerEventReconnected:
			logg.Info(ctx, "notify listener reconnected")
		}
	}

	listener := pq.NewListener(dsn, listenMinReconnect, listenMaxReconnect, report)
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	l := &NotifyListener{
		listener: listener,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go pump(listener.Notify, l.wake, l.done, listenPingInterval, listener.Ping)
	logg.Info(ctx, "listening for notifications")
	return l, nil
}

// Wake delivers at most one pending signal per burst of notifications.
func (l *NotifyListener) Wake() <-chan struct{} {
	return l.wake
}

func (l *NotifyListener) Close() error {
	close(l.done)
	return l.listener.Close()
}

func pump(notify <-chan *pq.Notification, wake chan<- struct{}, done <-chan struct{}, pingEvery time.Duration, ping func() error) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case _, ok := <-notify:
			if !ok {
				return
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		case <-ticker.C:
			// A failed ping makes the listener reconnect.
			_ = ping()
		}
	}
}
