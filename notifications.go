// notifications.go
package secretariat

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// NoticeLevel mirrors the severities the UI shows as transient notifications.
type NoticeLevel string

const (
	NoticeInfo     NoticeLevel = "info"
	NoticeSuccess  NoticeLevel = "success"
	NoticeWarning  NoticeLevel = "warning"
	NoticeError    NoticeLevel = "error"
	NoticeProgress NoticeLevel = "progress"
)

// Notice is one transient user-facing message.
type Notice struct {
	Level    NoticeLevel `json:"level"`
	Message  string      `json:"message"`
	WizardID string      `json:"wizard_id,omitempty"`
	Progress *int        `json:"progress,omitempty"`
}

// NotificationService stores notices and pushes them to connected sockets.
// Progress notices are only pushed.
type NotificationService struct {
	notes NotificationRepository
	ws    *WSManager
}

func NewNotificationService(notes NotificationRepository, ws *WSManager) *NotificationService {
	return &NotificationService{notes: notes, ws: ws}
}

var _ Notifier = (*NotificationService)(nil)

func (s *NotificationService) Notify(ctx context.Context, userID int64, n Notice) {
	payload, err := json.Marshal(n)
	if err != nil {
		Logger().Warn("notice_marshal_failed", zap.Error(err))
		return
	}
	msg := wsMessage{Type: string(n.Level), Payload: payload, Created: time.Now()}
	if n.Level != NoticeProgress && s.notes != nil {
		rec := &Notification{
			UserID:    userID,
			Type:      string(n.Level),
			Payload:   string(payload),
			CreatedAt: msg.Created,
		}
		if err := s.notes.AddNotification(rec); err != nil {
			Logger().Warn("notification_store_failed",
				zap.Int64("user_id", userID),
				zap.String("request_id", RequestIDFromContext(ctx)),
				zap.Error(err))
		} else {
			msg.ID = rec.ID
		}
	}
	if s.ws != nil {
		s.ws.BroadcastToUser(userID, msg)
	}
}

func (s *NotificationService) List(userID int64, unreadOnly bool) ([]Notification, error) {
	if unreadOnly {
		return s.notes.GetUnreadNotifications(userID)
	}
	return s.notes.GetUserNotifications(userID)
}

func (s *NotificationService) MarkRead(userID, notificationID int64) error {
	return s.notes.MarkNotificationRead(userID, notificationID)
}

// discardNotifier is used when a wizard runs without a delivery channel.
type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, int64, Notice) {}

func progressNotice(wizardID string, pct int) Notice {
	return Notice{Level: NoticeProgress, Message: "Uploading attachments", WizardID: wizardID, Progress: &pct}
}
