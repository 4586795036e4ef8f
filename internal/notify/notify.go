// Package notify hands messages for offline participants to an out-of-band
// delivery channel (push notification, email, SMS workers).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"telecare/internal/domain"
)

const (
	TypeOfflineMessage = "chat:offline_message"
	Queue              = "notifications"
)

// OfflineNotifier is told about every message whose receiver had no live session.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, m domain.Message) error
}

// Nop drops notifications.
type Nop struct{}

func (Nop) NotifyOffline(context.Context, domain.Message) error { return nil }

// OfflineMessage is the task payload consumed by the notification workers.
type OfflineMessage struct {
	ConversationID string      `json:"conversationId"`
	MessageID      string      `json:"messageId"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	ReceiverRole   domain.Role `json:"receiverRole"`
}

// Enqueuer is the part of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier enqueues one task per offline message on Redis through asynq.
type AsynqNotifier struct {
	client Enqueuer
}

var _ OfflineNotifier = (*AsynqNotifier)(nil)

func NewAsynqNotifier(client Enqueuer) *AsynqNotifier {
	return &AsynqNotifier{client: client}
}

// NewAsynqClient builds the asynq client for redisURL.
func NewAsynqClient(redisURL string) (*asynq.Client, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return asynq.NewClient(opt), nil
}

func (n *AsynqNotifier) NotifyOffline(ctx context.Context, m domain.Message) error {
	payload, err := json.Marshal(OfflineMessage{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		ReceiverRole:   m.ReceiverRole,
	})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeOfflineMessage, payload)
	// TaskID dedups a message that is enqueued twice.
	if _, err := n.client.EnqueueContext(ctx, task,
		asynq.Queue(Queue),
		asynq.TaskID(m.ID),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	); err != nil {
		return fmt.Errorf("asynq: enqueue %s: %w", TypeOfflineMessage, err)
	}
	return nil
}
