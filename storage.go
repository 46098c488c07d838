// storage.go
package secretariat

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

var (
	_ NotificationRepository = (*Storage)(nil)
	_ AuditRepository        = (*Storage)(nil)
)

// Inicializa conexión y migraciones
func NewStorage(dsn string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Storage) Close() error { return s.db.Close() }

// Ping is used by the health check.
func (s *Storage) Ping() error { return s.db.Ping() }

// ====================
// Migraciones
// ====================
func (s *Storage) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	payload TEXT,
	read_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, read_at);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	component TEXT NOT NULL,
	action TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT,
	actor_id INTEGER,
	request_id TEXT,
	payload TEXT,
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_logs_occurred ON audit_logs(occurred_at);
`
	_, err := s.db.Exec(schema)
	return err
}

// ====================
// Notificaciones
// ====================
func (s *Storage) AddNotification(n *Notification) error {
	now := n.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO notifications(user_id,type,payload,read_at,created_at)
		VALUES(?,?,?,?,?)`,
		n.UserID, n.Type, n.Payload, n.ReadAt, now)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	n.ID = id
	n.CreatedAt = now
	return nil
}

func (s *Storage) GetUserNotifications(userID int64) ([]Notification, error) {
	return s.queryNotifications(`SELECT id,user_id,type,payload,read_at,created_at FROM notifications
		WHERE user_id=? ORDER BY created_at DESC, id DESC`, userID)
}

// GetUnreadNotifications devuelve solo las no leídas
func (s *Storage) GetUnreadNotifications(userID int64) ([]Notification, error) {
	return s.queryNotifications(`SELECT id,user_id,type,payload,read_at,created_at FROM notifications
		WHERE user_id=? AND read_at IS NULL ORDER BY created_at DESC, id DESC`, userID)
}

func (s *Storage) queryNotifications(q string, args ...any) ([]Notification, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []Notification
	for rows.Next() {
		var n Notification
		var payload sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Payload = payload.String
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// MarkNotificationRead only touches notifications owned by userID.
func (s *Storage) MarkNotificationRead(userID, notificationID int64) error {
	res, err := s.db.Exec(`UPDATE notifications SET read_at=? WHERE id=? AND user_id=?`,
		time.Now().UTC(), notificationID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %d: %w", notificationID, ErrNotFound)
	}
	return nil
}

// ====================
// Auditoría
// ====================
func (s *Storage) AppendAudit(entry *AuditLog) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO audit_logs(component,action,level,message,actor_id,request_id,payload,occurred_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		entry.Component, entry.Action, entry.Level, entry.Message, entry.ActorID, entry.RequestID, entry.Payload, entry.OccurredAt)
	if err != nil {
		return err
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

// ListAuditLogs returns the newest entries matching filter.
func (s *Storage) ListAuditLogs(filter AuditFilter) ([]AuditLog, error) {
	var where []string
	var args []any
	if filter.Component != "" {
		where = append(where, "component=?")
		args = append(args, filter.Component)
	}
	if filter.Action != "" {
		where = append(where, "action=?")
		args = append(args, filter.Action)
	}
	if filter.Level != "" {
		where = append(where, "level=?")
		args = append(args, filter.Level)
	}
	if filter.RequestID != "" {
		where = append(where, "request_id=?")
		args = append(args, filter.RequestID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at>=?")
		args = append(args, filter.Since.UTC())
	}
	q := `SELECT id,component,action,level,message,actor_id,request_id,payload,occurred_at FROM audit_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += " ORDER BY occurred_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []AuditLog
	for rows.Next() {
		var l AuditLog
		var msg, reqID, payload sql.NullString
		var actor sql.NullInt64
		if err := rows.Scan(&l.ID, &l.Component, &l.Action, &l.Level, &msg, &actor, &reqID, &payload, &l.OccurredAt); err != nil {
			return nil, err
		}
		l.Message, l.RequestID, l.Payload = msg.String, reqID.String, payload.String
		if actor.Valid {
			id := actor.Int64
			l.ActorID = &id
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
