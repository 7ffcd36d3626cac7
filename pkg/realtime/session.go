package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ErrUnauthenticated は識別子を持たない接続を開こうとした場合のエラー。
var ErrUnauthenticated = errors.New("認証されていない接続です")

// State はセッションの状態。
type State int32

const (
	// StateConnecting はハンドシェイク直後でグループ未参加の状態。
	StateConnecting State = iota
	// StateOpen はグループに参加し配信を受け付けている状態。
	StateOpen
	// StateClosed は終了状態。再び開くことはない。
	StateClosed
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SessionConfig はセッションの送受信パラメータ。
type SessionConfig struct {
	// QueueSize は送信キューの長さ。満杯の間に届いた配信は破棄される。
	QueueSize int
	// WriteTimeout は1フレームの書き込みに許す時間。
	WriteTimeout time.Duration
	// PongWait はクライアントからの応答がない場合に切断するまでの時間。
	PongWait time.Duration
	// MessagesPerSecond はクライアントから受け付ける毎秒のメッセージ数。
	MessagesPerSecond int
	// MaxMessageSize は受信メッセージの最大バイト数。
	MaxMessageSize int64
}

// DefaultSessionConfig は標準的なセッション設定を返す。
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		QueueSize:         32,
		WriteTimeout:      5 * time.Second,
		PongWait:          60 * time.Second,
		MessagesPerSecond: 5,
		MaxMessageSize:    4096,
	}
}

// GroupsFor は接続時に参加するグループを返す。
// adminとfacultyは管理者向けグループにも参加する。
func GroupsFor(userID, role string) []string {
	groups := []string{UserGroup(userID), GroupCampus}
	if role == "admin" || role == "faculty" {
		groups = append(groups, GroupAdmin)
	}
	return groups
}

// NewUpgrader は許可オリジンを検証するWebSocketアップグレーダーを生成する。
// Originヘッダーのないリクエスト（ブラウザ以外）は許可する。
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowAny := slices.Contains(allowedOrigins, "*")
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowAny || slices.Contains(allowedOrigins, origin)
		},
	}
}

// Session は1本のWebSocket接続を表す。
// CONNECTING で生成され、Open で OPEN に、Close で CLOSED に遷移する。
type Session struct {
	// id はセッションの一意識別子。
	id string
	// userID は接続を所有するユーザーのID。
	userID string
	// role は接続時点のロール。
	role string
	conn     *websocket.Conn
	registry *Registry
	cfg      SessionConfig
	limiter  *rate.Limiter

	// send は書き込みゴルーチンへ渡すフレームのキュー。
	send chan []byte
	// done はClose時に閉じられる。
	done  chan struct{}
	state atomic.Int32
	// sendMu はsendへの投入とdoneのクローズを排他にする。
	sendMu sync.RWMutex

	// mu はjoinedとグループ参加処理を保護する。
	mu        sync.Mutex
	joined    []string
	closeOnce sync.Once
}

// NewSession はアップグレード済みの接続からセッションを生成する。
func NewSession(conn *websocket.Conn, registry *Registry, userID, role string, cfg SessionConfig) *Session {
	s := &Session{
		id:       uuid.NewString(),
		userID:   userID,
		role:     role,
		conn:     conn,
		registry: registry,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessagesPerSecond),
		send:     make(chan []byte, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID はセッションIDを返す。
func (s *Session) ID() string { return s.id }

// UserID は接続を所有するユーザーのIDを返す。
func (s *Session) UserID() string { return s.userID }

// State は現在の状態を返す。
func (s *Session) State() State { return State(s.state.Load()) }

// Groups は参加中のグループ名を返す。
func (s *Session) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.joined)
}

// Open はセッションをOPENにして所属グループに参加する。
// ユーザーIDが空の場合はどのグループにも参加せずCLOSEDにする。
func (s *Session) Open() error {
	if s.userID == "" {
		s.Close()
		return ErrUnauthenticated
	}
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return fmt.Errorf("セッションを開けません: state=%s", s.State())
	}

	s.mu.Lock()
	for _, group := range GroupsFor(s.userID, s.role) {
		// Closeと競合した場合は以降の参加を行わない
		if s.State() != StateOpen {
			break
		}
		if err := s.registry.Join(group, s); err != nil {
			s.mu.Unlock()
			s.Close()
			return fmt.Errorf("グループ %s への参加に失敗: %w", group, err)
		}
		s.joined = append(s.joined, group)
	}
	s.mu.Unlock()

	if s.State() != StateOpen {
		return ErrClosed
	}
	log.Printf("[Realtime] 接続しました: session=%s user=%s role=%s", s.id, s.userID, s.role)
	return nil
}

// Run は送受信ループを実行し、接続が終わるまでブロックする。
// 戻る時点でセッションはCLOSEDになっている。
func (s *Session) Run(ctx context.Context) {
	defer s.Close()

	go s.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	s.readLoop()
}

// Deliver は送信キューにフレームを積む。ブロックしない。
// Closeの後に積まれることはない。
func (s *Session) Deliver(payload []byte) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.State() != StateOpen {
		return ErrClosed
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close はセッションをCLOSEDにし、参加中の全グループから離脱して接続を閉じる。
// 何度呼び出しても、送信中の配信と並行して呼び出してもよい。
// グループからの離脱は接続の状態に依存しない。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.sendMu.Unlock()

		s.mu.Lock()
		for _, group := range s.joined {
			s.registry.Leave(group, s)
		}
		left := len(s.joined)
		s.joined = nil
		s.mu.Unlock()

		if s.conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = s.conn.Close()
		}
		log.Printf("[Realtime] 切断しました: session=%s user=%s groups=%d", s.id, s.userID, left)
	})
}

// readLoop はクライアントからのメッセージを処理する。
func (s *Session) readLoop() {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Realtime] 受信エラー: session=%s user=%s: %v", s.id, s.userID, err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		if !s.limiter.Allow() {
			s.reply(errorFrame("メッセージの送信頻度が高すぎます"))
			continue
		}

		in, err := DecodeInbound(data)
		if err != nil {
			log.Printf("[Realtime] 受信メッセージを拒否しました: session=%s user=%s: %v", s.id, s.userID, err)
			s.reply(errorFrame(err.Error()))
			continue
		}

		switch in.Type {
		case MessageTypePing:
			s.reply(pongFrame)
		}
	}
}

// reply はこのセッションにだけフレームを返す。
func (s *Session) reply(frame []byte) {
	if err := s.Deliver(frame); err != nil && !errors.Is(err, ErrClosed) {
		log.Printf("[Realtime] 応答を送信できません: session=%s: %v", s.id, err)
	}
}

// writeLoop は送信キューのフレームと定期的なpingを書き込む。
func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("[Realtime] 書き込みに失敗したため切断します: session=%s user=%s: %v", s.id, s.userID, err)
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.Close()
				return
			}
		}
	}
}
