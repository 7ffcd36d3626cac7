package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/campushub/pkg/event"
)

// recordingNotifier は受け取った依頼を記録するintentNotifier。
// blockを閉じるまでNotifyの戻りを待たせることができる。
type recordingNotifier struct {
	mu      sync.Mutex
	intents []Intent
	block   chan struct{}
	err     error
}

func (r *recordingNotifier) Notify(ctx context.Context, in Intent) (int, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, in)
	return 1, r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.intents)
}

func singleIntent(userID string) Intent {
	return Intent{Audience: Single(userID), Content: testContent}
}

func TestDispatcher(t *testing.T) {
	t.Parallel()

	t.Run("Stopはキューに残った依頼を処理し終えてから戻ること", func(t *testing.T) {
		t.Parallel()
		rec := &recordingNotifier{}
		d := NewDispatcher(rec, 10, 2)
		d.Start(t.Context())

		for _, id := range []string{"a", "b", "c", "d"} {
			if err := d.Enqueue(singleIntent(id)); err != nil {
				t.Fatalf("Enqueue()でエラーが発生: %v", err)
			}
		}
		d.Stop()

		if got := rec.count(); got != 4 {
			t.Errorf("処理件数: got %d, want 4", got)
		}
	})

	t.Run("キューが満杯の場合はブロックせずErrQueueFullを返すこと", func(t *testing.T) {
		t.Parallel()
		rec := &recordingNotifier{block: make(chan struct{})}
		d := NewDispatcher(rec, 1, 1)
		d.Start(t.Context())
		t.Cleanup(func() {
			close(rec.block)
			d.Stop()
		})

		// 1件目はワーカーが取り出して処理中のまま止まる
		if err := d.Enqueue(singleIntent("a")); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
		deadline := time.Now().Add(time.Second)
		var err error
		for time.Now().Before(deadline) {
			if err = d.Enqueue(singleIntent("b")); errors.Is(err, ErrQueueFull) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("err = %v, want ErrQueueFull", err)
		}
	})

	t.Run("停止後の投入はErrDispatcherStoppedになること", func(t *testing.T) {
		t.Parallel()
		d := NewDispatcher(&recordingNotifier{}, 1, 1)
		d.Start(t.Context())
		d.Stop()
		d.Stop()

		if err := d.Enqueue(singleIntent("a")); !errors.Is(err, ErrDispatcherStopped) {
			t.Errorf("err = %v, want ErrDispatcherStopped", err)
		}
	})

	t.Run("通知の失敗はワーカーを止めないこと", func(t *testing.T) {
		t.Parallel()
		rec := &recordingNotifier{err: errors.New("db down")}
		d := NewDispatcher(rec, 4, 1)
		d.Start(t.Context())

		_ = d.Enqueue(singleIntent("a"))
		_ = d.Enqueue(singleIntent("b"))
		d.Stop()

		if got := rec.count(); got != 2 {
			t.Errorf("処理件数: got %d, want 2", got)
		}
	})

	t.Run("EnqueueEventはイベントを変換した件数だけ積むこと", func(t *testing.T) {
		t.Parallel()
		rec := &recordingNotifier{}
		d := NewDispatcher(rec, 4, 1)
		d.Start(t.Context())

		ev := mustEvent(t, "fb-1", event.TypeFeedbackSubmitted, "s", event.FeedbackSubmittedData{
			Subject: "図書館", Category: "facility", SubmitterID: "s", SubmitterName: "学生",
		})
		n, err := d.EnqueueEvent(ev)
		if err != nil {
			t.Fatalf("EnqueueEvent()でエラーが発生: %v", err)
		}
		d.Stop()

		if n != 2 || rec.count() != 2 {
			t.Errorf("投入=%d 処理=%d, want 2 2", n, rec.count())
		}
	})

	t.Run("対象外のイベントは何も積まないこと", func(t *testing.T) {
		t.Parallel()
		d := NewDispatcher(&recordingNotifier{}, 4, 1)

		if _, err := d.EnqueueEvent(&event.Event{EventType: "Unknown"}); !errors.Is(err, ErrUnsupportedEvent) {
			t.Errorf("err = %v, want ErrUnsupportedEvent", err)
		}
	})
}

func TestDispatcherEndToEnd(t *testing.T) {
	t.Parallel()

	f := newNotifierFixture(t, &fakeDirectory{active: []string{"reporter", "a", "b"}})
	ep := connect(t, f.registry, "a", RoleStudent)
	d := NewDispatcher(f.notifier, 8, 2)
	d.Start(t.Context())

	ev := mustEvent(t, "item-1", event.TypeItemReported, "reporter", event.ItemReportedData{
		ItemType: "lost", Title: "傘", Location: "講堂", ReporterName: "報告者",
	})
	if _, err := d.EnqueueEvent(ev); err != nil {
		t.Fatalf("EnqueueEvent()でエラーが発生: %v", err)
	}
	d.Stop()

	if countFor(t, f.store, "reporter") != 0 {
		t.Error("報告者本人に通知が保存された")
	}
	if countFor(t, f.store, "a") != 1 || countFor(t, f.store, "b") != 1 {
		t.Error("報告者以外の有効ユーザーに通知が保存されていない")
	}
	if len(ep.received()) != 1 {
		t.Errorf("接続中ユーザーの受信件数: got %d, want 1", len(ep.received()))
	}
}
