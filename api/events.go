package api

import (
	"idevicedesk/backup"
	"idevicedesk/models"
	"idevicedesk/session"
)

// Message types pushed over the websocket
const (
	MsgSession        = "session"
	MsgBackupProgress = "backup_progress"
)

// PublishEvents forwards store snapshots and backup progress to the hub.
// Runs dropped by the tracker lose their cached frame. The returned func
// stops the store subscription.
func PublishEvents(hub *WebSocketHub, store *session.Store, tracker *backup.Tracker) (cancel func()) {
	hub.Publish(TopicSession, MsgSession, store.Snapshot())
	cancel = store.Subscribe(func(s session.Snapshot) {
		hub.Publish(TopicSession, MsgSession, s)
	})
	if tracker != nil {
		tracker.OnChange(func(id string, p models.BackupProgress) {
			hub.Publish(id, MsgBackupProgress, p)
		})
		tracker.OnRemove(hub.Forget)
	}
	return cancel
}
