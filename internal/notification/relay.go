package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/campushub/pkg/event"
	"github.com/nao1215/campushub/pkg/httpclient"
)

// eventsSincePath はイベントフィードの差分取得API。
const eventsSincePath = "/api/v1/events/since"

// Relay は外部のイベントフィードを定期的にポーリングし、新しいイベントをIntakeに渡す。
// ドメインモジュールが内部APIを直接呼び出せない構成で使う。
type Relay struct {
	// client はイベントフィードとの通信用HTTPクライアント。
	client *httpclient.Client
	// intake は取り込んだイベントの受付先。
	intake *Intake
	// interval はポーリング間隔。
	interval time.Duration

	// mu はcursorを保護する。
	mu sync.Mutex
	// cursor は次回取得するイベントの作成日時の下限。
	cursor time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay は新しいRelayを生成する。since以降に作成されたイベントから取り込む。
func NewRelay(client *httpclient.Client, intake *Intake, interval time.Duration, since time.Time) *Relay {
	return &Relay{
		client:   client,
		intake:   intake,
		interval: interval,
		cursor:   since,
	}
}

// Start はバックグラウンドでポーリングを開始する。
func (r *Relay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		log.Printf("[Relay] イベントフィードのポーリングを開始します: interval=%s", r.interval)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Printf("[Relay] ポーリングを停止しました")
				return
			case <-ticker.C:
				if _, err := r.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("[Relay] ポーリングエラー: %v", err)
				}
			}
		}
	}()
}

// Stop はポーリングを停止し、実行中のポーリングの終了を待つ。
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Cursor は次回取得するイベントの作成日時の下限を返す。
func (r *Relay) Cursor() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Poll はイベントフィードから新しいイベントを1回取得し、受け付けた件数を返す。
// キューが満杯になった場合はそのイベント以降を次回に持ち越す。
func (r *Relay) Poll(ctx context.Context) (int, error) {
	since := r.Cursor()

	var events []event.Event
	query := url.Values{"since": {since.UTC().Format(time.RFC3339Nano)}}
	if err := r.client.GetJSON(ctx, eventsSincePath, query, &events); err != nil {
		return 0, fmt.Errorf("イベントフィードからの取得に失敗: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	accepted := 0
	latest := since
	var (
		pollErr error
		heldAt  time.Time
	)
	for i := range events {
		ev := &events[i]
		if ev.ID == "" {
			ev.ID = feedEventID(ev)
		}
		res, err := r.intake.Accept(ctx, ev)
		switch {
		case errors.Is(err, ErrQueueFull), errors.Is(err, ErrDispatcherStopped):
			pollErr = fmt.Errorf("イベント %s 以降を次回に持ち越します: %w", ev.ID, err)
			heldAt = ev.CreatedAt
		case err != nil:
			// 変換できないイベントは読み飛ばす
			log.Printf("[Relay] イベントを処理できません: id=%s type=%s: %v", ev.ID, ev.EventType, err)
		case !res.Duplicate:
			accepted++
		}
		if pollErr != nil {
			break
		}
		if ev.CreatedAt.After(latest) {
			latest = ev.CreatedAt
		}
	}

	if latest.After(since) {
		next := latest.Add(time.Nanosecond)
		// 持ち越すイベントが同時刻の場合は進めない。再取得分は受付済みとして読み飛ばされる
		if pollErr != nil && !heldAt.After(latest) {
			next = latest
		}
		r.mu.Lock()
		r.cursor = next
		r.mu.Unlock()
	}
	if accepted > 0 {
		log.Printf("[Relay] %d件のイベントを取り込みました", accepted)
	}
	return accepted, pollErr
}

// feedEventID はIDを持たないフィードのイベントに内容から決まるIDを与える。
// 同じイベントを再取得しても同じIDになり、受付済みとして読み飛ばされる。
func feedEventID(ev *event.Event) string {
	key := strings.Join([]string{
		ev.AggregateID,
		string(ev.AggregateType),
		string(ev.EventType),
		ev.ActorID,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(ev.Data),
	}, "\x00")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(eventsSincePath+"\x00"+key)).String()
}
