package broadcast

import (
	"context"
	"time"
)

// Notifier publishes and subscribes to session lock notifications.
type Notifier interface {
	// NotifyUnlock tells every tab of the session it has been unlocked.
	// Delivery is best effort.
	NotifyUnlock(ctx context.Context, sessionID string) error
	// NotifyLock tells every tab of the session it has been locked.
	NotifyLock(ctx context.Context, sessionID string) error
	// NotifySignOut tells every tab of the session to drop its credentials.
	NotifySignOut(ctx context.Context, sessionID string) error
	// Subscribe returns messages for one session until cancel is called or
	// ctx ends.
	Subscribe(ctx context.Context, sessionID string) (<-chan Message, func(), error)
}

func newMessage(action Action, sessionID string) Message {
	return Message{Action: action, SessionID: sessionID, SentAt: time.Now().UTC()}
}
