package realtime

import (
	"errors"
	"log"
	"strings"
	"sync"
)

// 接続時に参加する共通グループ名。
const (
	// GroupCampus は認証済みの全接続が参加するグループ。
	GroupCampus = "campus_notifications"
	// GroupAdmin はadminとfacultyの接続が参加するグループ。
	GroupAdmin = "admin_notifications"
)

var (
	// ErrClosed はエンドポイントまたはレジストリが既に閉じられている場合のエラー。
	ErrClosed = errors.New("既に閉じられています")
	// ErrQueueFull はエンドポイントの送信キューが満杯の場合のエラー。
	ErrQueueFull = errors.New("送信キューが満杯です")
)

// UserGroup はユーザー個別のグループ名を返す。
func UserGroup(userID string) string {
	return "user_" + userID
}

// ClubGroup はクラブ単位のグループ名を返す。
func ClubGroup(clubID string) string {
	return "club_" + clubID
}

// Endpoint はレジストリから配信を受け取る接続。
type Endpoint interface {
	// ID は接続の一意識別子を返す。
	ID() string
	// UserID は接続を所有するユーザーのIDを返す。
	UserID() string
	// Deliver はペイロードを送信キューに積む。ブロックしてはならない。
	// 閉じられている場合はErrClosed、キューが満杯の場合はErrQueueFullを返す。
	Deliver(payload []byte) error
	// Close は接続を閉じる。複数回呼び出してもよい。
	Close()
}

// Registry はグループ名と接続中エンドポイントの対応を管理する。
// 全メソッドは複数のゴルーチンから同時に呼び出してよい。
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]Endpoint
	closed bool
}

// NewRegistry は空のレジストリを生成する。
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[string]Endpoint)}
}

// Join はエンドポイントをグループに追加する。
// 同じエンドポイントを同じグループへ重ねて追加しても1件として扱う。
func (r *Registry) Join(group string, ep Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]Endpoint)
		r.groups[group] = members
	}
	members[ep.ID()] = ep
	return nil
}

// Leave はエンドポイントをグループから取り除く。
// 所属していない場合は何もしない。空になったグループは削除する。
func (r *Registry) Leave(group string, ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, ep.ID())
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// Send はグループの全メンバーにペイロードを配信し、キューに積めた件数を返す。
// メンバーがいないグループへの送信は何もせず0を返す。
func (r *Registry) Send(group string, payload []byte) int {
	return r.fanOut(group, payload, nil)
}

// SendTo はユーザー個別グループへ配信する。
func (r *Registry) SendTo(userID string, payload []byte) int {
	return r.fanOut(UserGroup(userID), payload, nil)
}

// SendFiltered はグループのうちallowがtrueを返すユーザーの接続にだけ配信する。
func (r *Registry) SendFiltered(group string, payload []byte, allow func(userID string) bool) int {
	return r.fanOut(group, payload, allow)
}

// SendMany は複数グループのメンバーに配信する。
// 複数のグループに属するエンドポイントにも1回だけ配信する。
func (r *Registry) SendMany(groups []string, payload []byte) int {
	seen := make(map[string]struct{})
	var targets []Endpoint
	for _, group := range groups {
		for _, ep := range r.snapshot(group) {
			if _, dup := seen[ep.ID()]; dup {
				continue
			}
			seen[ep.ID()] = struct{}{}
			targets = append(targets, ep)
		}
	}
	return deliverAll(targets, payload, nil, strings.Join(groups, ","))
}

// fanOut はロック中にメンバーを複製し、ロックを外してから配信する。
// 配信失敗は他のメンバーへの配信に影響しない。
func (r *Registry) fanOut(group string, payload []byte, allow func(string) bool) int {
	return deliverAll(r.snapshot(group), payload, allow, group)
}

// deliverAll は各エンドポイントに配信し、キューに積めた件数を返す。
func deliverAll(targets []Endpoint, payload []byte, allow func(string) bool, group string) int {
	delivered := 0
	for _, ep := range targets {
		if allow != nil && !allow(ep.UserID()) {
			continue
		}
		switch err := ep.Deliver(payload); {
		case err == nil:
			delivered++
		case errors.Is(err, ErrClosed):
			// 切断処理中の接続は配信対象外
		default:
			log.Printf("[Realtime] 配信をスキップしました: group=%s endpoint=%s user=%s: %v",
				group, ep.ID(), ep.UserID(), err)
		}
	}
	return delivered
}

// snapshot はグループのメンバーを複製して返す。
func (r *Registry) snapshot(group string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.groups[group]
	targets := make([]Endpoint, 0, len(members))
	for _, ep := range members {
		targets = append(targets, ep)
	}
	return targets
}

// Count はグループのメンバー数を返す。
func (r *Registry) Count(group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[group])
}

// Groups は現在メンバーが存在するグループ数を返す。
func (r *Registry) Groups() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Close は全エンドポイントを閉じて全グループを空にする。
// 以後のJoinはErrClosedを返す。
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	unique := make(map[string]Endpoint)
	for _, members := range r.groups {
		for id, ep := range members {
			unique[id] = ep
		}
	}
	r.groups = make(map[string]map[string]Endpoint)
	r.mu.Unlock()

	for _, ep := range unique {
		ep.Close()
	}
	log.Printf("[Realtime] レジストリを閉じました: 接続数=%d", len(unique))
}
