package domain

import (
	"context"
	"time"
)

// IngestJob содержит пачку ссылок из одного сообщения источника.
type IngestJob struct {
	ID         string    `json:"job_id"`
	URLs       []string  `json:"urls"`
	SourceMsg  int       `json:"source_msg_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// IngestAckFunc подтверждает обработку задачи или запрашивает повтор доставки.
type IngestAckFunc func(success bool) error

// IngestQueue описывает очередь задач на обработку ссылок.
type IngestQueue interface {
	Enqueue(ctx context.Context, job IngestJob) error
	Receive(ctx context.Context) (IngestJob, IngestAckFunc, error)
}
