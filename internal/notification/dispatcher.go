package notification

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nao1215/campushub/pkg/event"
)

var (
	// ErrQueueFull はディスパッチャーのキューが満杯の場合のエラー。
	ErrQueueFull = errors.New("通知キューが満杯です")
	// ErrDispatcherStopped は停止済みのディスパッチャーに投入した場合のエラー。
	ErrDispatcherStopped = errors.New("通知ディスパッチャーは停止しています")
)

// intentTimeout は1件の通知依頼の処理に許す時間。
const intentTimeout = 30 * time.Second

// intentNotifier はディスパッチャーが依頼を渡す先。
type intentNotifier interface {
	Notify(ctx context.Context, in Intent) (int, error)
}

// Dispatcher はドメイン処理から受け取った通知依頼を有界キューに積み、
// ワーカーゴルーチンで非同期に処理する。投入側は処理の完了を待たない。
type Dispatcher struct {
	notifier intentNotifier
	queue    chan Intent
	workers  int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(notifier intentNotifier, queueSize, workers int) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan Intent, queueSize),
		workers:  workers,
	}
}

// Start はワーカーを起動する。ctxがキャンセルされると処理中の依頼も中断される。
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	for i := range d.workers {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	log.Printf("[Dispatcher] ワーカーを起動しました: workers=%d queue=%d", d.workers, cap(d.queue))
}

// Enqueue は依頼をキューに積む。ブロックせず、満杯の場合はErrQueueFullを返す。
func (d *Dispatcher) Enqueue(in Intent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- in:
		return nil
	default:
		return ErrQueueFull
	}
}

// EnqueueEvent はドメインイベントを通知依頼に変換してキューに積む。
// 積んだ依頼の件数を返す。途中で満杯になった場合はそこまでの件数とエラーを返す。
func (d *Dispatcher) EnqueueEvent(ev *event.Event) (int, error) {
	intents, err := Translate(ev)
	if err != nil {
		return 0, err
	}
	for i, in := range intents {
		if err := d.Enqueue(in); err != nil {
			return i, err
		}
	}
	return len(intents), nil
}

// Stop は新規の投入を止め、キューに残った依頼を処理し終えるまで待つ。
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
	log.Printf("[Dispatcher] ワーカーを停止しました")
}

// work はキューが閉じられるまで依頼を処理する。
func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()

	for in := range d.queue {
		d.handle(ctx, id, in)
	}
}

// handle は1件の依頼を処理する。エラーはログに残し投入側には返さない。
func (d *Dispatcher) handle(ctx context.Context, id int, in Intent) {
	ctx, cancel := context.WithTimeout(ctx, intentTimeout)
	defer cancel()

	count, err := d.notifier.Notify(ctx, in)
	if err != nil {
		log.Printf("[Dispatcher] worker=%d 通知に失敗: audience=%s title=%q 保存=%d: %v",
			id, in.Audience.Kind, in.Title, count, err)
	}
}
