package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	notificationdb "github.com/nao1215/campushub/internal/notification/db"
	"github.com/nao1215/campushub/pkg/event"
)

// Inbox は受信済みドメインイベントの記録。
type Inbox struct {
	queries *notificationdb.Queries
	now     func() time.Time
}

// NewInbox は新しいInboxを生成する。
func NewInbox(db notificationdb.DBTX) *Inbox {
	return &Inbox{
		queries: notificationdb.New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Record はイベントを記録する。既に記録済みの場合はfalseを返す。
func (b *Inbox) Record(ctx context.Context, ev *event.Event) (bool, error) {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = b.now()
	}
	n, err := b.queries.RecordReceivedEvent(ctx, notificationdb.RecordReceivedEventParams{
		ID:            ev.ID,
		AggregateID:   ev.AggregateID,
		AggregateType: string(ev.AggregateType),
		EventType:     string(ev.EventType),
		ActorID:       ev.ActorID,
		Data:          string(ev.Data),
		CreatedAt:     createdAt.UTC(),
		ReceivedAt:    b.now(),
	})
	if err != nil {
		return false, fmt.Errorf("受信イベントの記録に失敗: %w", err)
	}
	return n > 0, nil
}

// Forget は記録を取り消し、同じイベントの再送を受け付けられるようにする。
func (b *Inbox) Forget(ctx context.Context, id string) error {
	if err := b.queries.DeleteReceivedEvent(ctx, id); err != nil {
		return fmt.Errorf("受信イベントの記録の取り消しに失敗: %w", err)
	}
	return nil
}

// ListByAggregate は対象エンティティの受信イベントを古い順に返す。
func (b *Inbox) ListByAggregate(ctx context.Context, aggregateID string) ([]notificationdb.ReceivedEvent, error) {
	events, err := b.queries.ListReceivedEventsByAggregateID(ctx, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("受信イベント一覧の取得に失敗: %w", err)
	}
	return events, nil
}

// eventQueue はIntakeが変換済みのイベントを積む先。
type eventQueue interface {
	EnqueueEvent(ev *event.Event) (int, error)
}

// IntakeResult はイベント受付の結果。
type IntakeResult struct {
	// EventID は受け付けたイベントのID。
	EventID string `json:"event_id"`
	// Queued はキューに積んだ通知依頼の件数。
	Queued int `json:"queued"`
	// Duplicate は既に受付済みのイベントだったかどうか。
	Duplicate bool `json:"duplicate"`
}

// Intake はドメインイベントを重複排除してディスパッチャーに渡す。
// HTTPで届いたイベントもイベントフィードから取り込んだイベントもここを通る。
type Intake struct {
	inbox *Inbox
	queue eventQueue
}

// NewIntake は新しいIntakeを生成する。
func NewIntake(inbox *Inbox, queue eventQueue) *Intake {
	return &Intake{inbox: inbox, queue: queue}
}

// Accept はイベントを検証して記録し、通知依頼としてキューに積む。
// 記録済みのイベントは何もせずDuplicateを返す。
// キューに積めなかった場合は記録を取り消し、再送を受け付けられるようにする。
func (in *Intake) Accept(ctx context.Context, ev *event.Event) (IntakeResult, error) {
	if ev == nil {
		return IntakeResult{}, ErrUnsupportedEvent
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	res := IntakeResult{EventID: ev.ID}

	// 変換できないイベントは記録しない
	if _, err := Translate(ev); err != nil {
		return res, err
	}

	recorded, err := in.inbox.Record(ctx, ev)
	if err != nil {
		return res, err
	}
	if !recorded {
		log.Printf("[Intake] 受付済みのイベントを無視しました: id=%s type=%s", ev.ID, ev.EventType)
		res.Duplicate = true
		return res, nil
	}

	res.Queued, err = in.queue.EnqueueEvent(ev)
	if err != nil {
		if ferr := in.inbox.Forget(ctx, ev.ID); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return res, err
	}
	return res, nil
}
