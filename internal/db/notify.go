package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  The kiosk sends
// the registration number of every prescribed visit and the doctor console
// listens for them.
type Notifier struct {
	DB      *sql.DB
	Channel string
}

// NewNotifier constructs a new Notifier for channel.
func NewNotifier(db *sql.DB, channel string) *Notifier {
	return &Notifier{DB: db, Channel: channel}
}

// Notify publishes regNo on the channel.
func (n *Notifier) Notify(ctx context.Context, regNo string) error {
	_, err := n.DB.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.Channel, regNo)
	return err
}

// Listen opens a dedicated listener connection and yields payloads until ctx
// is cancelled.  onProblem receives connection errors; the listener reconnects
// on its own.
func (n *Notifier) Listen(ctx context.Context, dsn string, onProblem func(error)) (<-chan string, error) {
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(_ pq.ListenerEventType, err error) {
		if err != nil && onProblem != nil {
			onProblem(err)
		}
	})
	if err := l.Listen(n.Channel); err != nil {
		_ = l.Close()
		return nil, err
	}
	ch := make(chan string)
	go func() {
		defer func() {
			_ = l.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case note := <-l.Notify:
				// nil after a reconnect
				if note == nil {
					continue
				}
				select {
				case ch <- note.Extra:
				case <-ctx.Done():
					return
				}
			case <-time.After(90 * time.Second):
				go func() { _ = l.Ping() }()
			}
		}
	}()
	return ch, nil
}
