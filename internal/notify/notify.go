// Package notify creates in-app notifications and optionally mirrors them
// to email. Notification failures never fail the triggering operation.
package notify

import (
	"context"
	"log"
	"regexp"

	"decidehub/internal/store"
	"decidehub/internal/util"
)

// Store is the storage surface the dispatcher needs.
type Store interface {
	InsertNotification(ctx context.Context, item store.Notification) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// Mailer mirrors a notification to the user's inbox.
type Mailer interface {
	IsConfigured() bool
	SendNotificationEmail(to, userName, title, message string) error
}

// Dispatcher fans notifications out to storage and email.
type Dispatcher struct {
	store  Store
	mailer Mailer
}

// NewDispatcher creates a dispatcher. mailer may be nil.
func NewDispatcher(store Store, mailer Mailer) *Dispatcher {
	return &Dispatcher{store: store, mailer: mailer}
}

// Send creates one notification for the user. The email copy is best effort.
func (d *Dispatcher) Send(ctx context.Context, userID string, decisionID *string, notifType, title, message string) {
	item := store.Notification{
		ID:         util.NewID("ntf"),
		UserID:     userID,
		DecisionID: decisionID,
		Type:       notifType,
		Title:      title,
		Message:    message,
	}
	if err := d.store.InsertNotification(ctx, item); err != nil {
		log.Printf("notify: insert notification for %s: %v", userID, err)
		return
	}

	if d.mailer == nil || !d.mailer.IsConfigured() {
		return
	}
	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		log.Printf("notify: lookup user %s for email copy: %v", userID, err)
		return
	}
	if err := d.mailer.SendNotificationEmail(user.Email, user.Handle, title, message); err != nil {
		log.Printf("notify: email copy to %s: %v", user.Email, err)
	}
}

// SendToMany sends the same notification to several users, skipping the actor.
func (d *Dispatcher) SendToMany(ctx context.Context, userIDs []string, skipUserID string, decisionID *string, notifType, title, message string) {
	for _, userID := range userIDs {
		if userID == skipUserID {
			continue
		}
		d.Send(ctx, userID, decisionID, notifType, title, message)
	}
}

var mentionPattern = regexp.MustCompile(`@([\w.@+-]+)`)

// ExtractMentions returns the distinct handles mentioned in text, in order
// of first appearance.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	handles := make([]string, 0, len(matches))
	for _, match := range matches {
		handle := match[1]
		if seen[handle] {
			continue
		}
		seen[handle] = true
		handles = append(handles, handle)
	}
	return handles
}
