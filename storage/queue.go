package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

type queue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// BoardChange is the message exported for each board write. It carries a
// reference rather than the document so it stays within queue size limits.
type BoardChange struct {
	BoardID   string `json:"boardId"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	UpdatedAt int64  `json:"updatedAt"`
	Time      int64  `json:"time"`
}

// EventQueue exports board updates to an Azure storage queue so that other
// services can react to them.
type EventQueue struct {
	q   queue
	now func() time.Time
}

func NewEventQueue(connStr, queueName string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{q: qc, now: time.Now}, nil
}

// Publish enqueues update-board events. Other event types are ignored.
func (e *EventQueue) Publish(ctx context.Context, ev domain.Event) error {
	if ev.Type != domain.EventUpdateBoard {
		return nil
	}
	b, err := ev.Board()
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(BoardChange{
		BoardID:   ev.Room,
		UserID:    ev.UserID,
		Title:     b.Title,
		UpdatedAt: b.UpdatedAt,
		Time:      e.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if _, err := e.q.EnqueueMessage(ctx, string(data), nil); err != nil {
		return &domain.PersistenceError{Op: "enqueue board change", Err: err}
	}
	return nil
}
