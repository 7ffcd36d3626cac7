package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testSessionConfig はテスト用のセッション設定を返す。
func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.WriteTimeout = time.Second
	cfg.MessagesPerSecond = 100
	return cfg
}

// startSessionServer はクエリのuser/roleでセッションを開くテスト用サーバーを起動する。
// 生成されたセッションはsessionsに送られる。
func startSessionServer(t *testing.T, r *Registry) (*httptest.Server, <-chan *Session) {
	t.Helper()

	sessions := make(chan *Session, 4)
	upgrader := NewUpgrader([]string{"*"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		s := NewSession(conn, r, req.URL.Query().Get("user"), req.URL.Query().Get("role"), testSessionConfig())
		sessions <- s
		if err := s.Open(); err != nil {
			return
		}
		s.Run(req.Context())
	}))
	t.Cleanup(srv.Close)
	return srv, sessions
}

// dial はテスト用サーバーにWebSocketで接続する。
func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket接続に失敗: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame はクライアント側で1フレームを読み取りmapにデコードする。
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("フレームの読み取りに失敗: %v", err)
	}
	return frame
}

// waitFor は条件が満たされるまで待つ。
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("条件が満たされないままタイムアウトしました")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("接続時に所属グループへ参加し切断時に全て離脱すること", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		srv, sessions := startSessionServer(t, r)

		conn := dial(t, srv, "user=42&role=faculty")
		s := <-sessions
		waitFor(t, func() bool { return s.State() == StateOpen && len(s.Groups()) == 3 })

		for _, g := range []string{UserGroup("42"), GroupCampus, GroupAdmin} {
			if r.Count(g) != 1 {
				t.Errorf("%sのメンバー数: got %d, want 1", g, r.Count(g))
			}
		}

		_ = conn.Close()
		waitFor(t, func() bool { return s.State() == StateClosed })

		if got := r.SendTo("42", []byte(`{}`)); got != 0 {
			t.Errorf("切断後の配信件数: got %d, want 0", got)
		}
		if r.Groups() != 0 {
			t.Errorf("残っているグループ数: got %d, want 0", r.Groups())
		}
	})

	t.Run("pingにpongを返すこと", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		srv, _ := startSessionServer(t, r)
		conn := dial(t, srv, "user=1&role=student")

		if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
			t.Fatalf("pingの送信に失敗: %v", err)
		}
		frame := readFrame(t, conn)
		if frame["type"] != "pong" {
			t.Errorf("type: got %v, want pong", frame["type"])
		}
	})

	t.Run("未知のメッセージにはerrorを返し接続を維持すること", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		srv, _ := startSessionServer(t, r)
		conn := dial(t, srv, "user=1&role=student")

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`))
		frame := readFrame(t, conn)
		if frame["type"] != "error" {
			t.Errorf("type: got %v, want error", frame["type"])
		}

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		if frame := readFrame(t, conn); frame["type"] != "error" {
			t.Errorf("type: got %v, want error", frame["type"])
		}

		_ = conn.WriteJSON(map[string]string{"type": "ping"})
		if frame := readFrame(t, conn); frame["type"] != "pong" {
			t.Errorf("エラー後のping応答: got %v, want pong", frame["type"])
		}
	})

	t.Run("グループ配信のペイロードがそのまま届くこと", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		srv, sessions := startSessionServer(t, r)
		conn := dial(t, srv, "user=5&role=student")
		s := <-sessions
		waitFor(t, func() bool { return r.Count(GroupCampus) == 1 && s.State() == StateOpen })

		payload, _ := json.Marshal(map[string]any{
			"type": "event", "title": "新イベント", "message": "開催します", "link": nil,
		})
		if got := r.Send(GroupCampus, payload); got != 1 {
			t.Fatalf("配信件数: got %d, want 1", got)
		}

		frame := readFrame(t, conn)
		if frame["title"] != "新イベント" || frame["message"] != "開催します" || frame["type"] != "event" {
			t.Errorf("受信フレーム: got %v", frame)
		}
		if v, ok := frame["link"]; !ok || v != nil {
			t.Errorf("link: got %v (存在=%t), want null", v, ok)
		}
	})

	t.Run("レジストリを閉じるとクライアント接続も閉じられること", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		srv, sessions := startSessionServer(t, r)
		conn := dial(t, srv, "user=9&role=student")
		s := <-sessions
		waitFor(t, func() bool { return r.Count(GroupCampus) == 1 })

		r.Close()

		if s.State() != StateClosed {
			t.Errorf("状態: got %s, want CLOSED", s.State())
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("接続が閉じられていない")
		}
	})
}

func TestSessionOpen(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーIDが空の場合はどのグループにも参加せずCLOSEDになること", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		s := NewSession(nil, r, "", "", testSessionConfig())

		if err := s.Open(); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("err = %v, want ErrUnauthenticated", err)
		}
		if s.State() != StateClosed {
			t.Errorf("状態: got %s, want CLOSED", s.State())
		}
		if r.Groups() != 0 {
			t.Errorf("グループ数: got %d, want 0", r.Groups())
		}
	})

	t.Run("閉じたレジストリでは開けないこと", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		r.Close()
		s := NewSession(nil, r, "1", "student", testSessionConfig())

		if err := s.Open(); !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
		if s.State() != StateClosed {
			t.Errorf("状態: got %s, want CLOSED", s.State())
		}
	})

	t.Run("接続が壊れていてもCloseで全グループから離脱すること", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		s := NewSession(nil, r, "3", "admin", testSessionConfig())
		if err := s.Open(); err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		if r.Groups() != 3 {
			t.Fatalf("グループ数: got %d, want 3", r.Groups())
		}

		s.Close()
		s.Close()

		if r.Groups() != 0 {
			t.Errorf("グループ数: got %d, want 0", r.Groups())
		}
		if err := s.Deliver([]byte(`{}`)); !errors.Is(err, ErrClosed) {
			t.Errorf("Close後のDeliver: got %v, want ErrClosed", err)
		}
	})

	t.Run("Closeと並行した配信は閉じた後のキューに積まれないこと", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		cfg := testSessionConfig()
		cfg.QueueSize = 256
		s := NewSession(nil, r, "5", "student", cfg)
		if err := s.Open(); err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}

		var (
			wg        sync.WaitGroup
			delivered atomic.Int32
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 16 {
					if err := s.Deliver([]byte(`{}`)); err == nil {
						delivered.Add(1)
					}
				}
			}()
		}
		s.Close()
		queued := len(s.send)
		wg.Wait()

		if got := len(s.send); got != queued {
			t.Errorf("Close後にキューへ積まれた: before=%d after=%d", queued, got)
		}
		if int(delivered.Load()) != len(s.send) {
			t.Errorf("成功した配信数: got %d, want %d", delivered.Load(), len(s.send))
		}
		if err := s.Deliver([]byte(`{}`)); !errors.Is(err, ErrClosed) {
			t.Errorf("Close後のDeliver: got %v, want ErrClosed", err)
		}
	})

	t.Run("送信キューが満杯の場合はErrQueueFullを返すこと", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry()
		cfg := testSessionConfig()
		cfg.QueueSize = 1
		s := NewSession(nil, r, "4", "student", cfg)
		if err := s.Open(); err != nil {
			t.Fatalf("Open()でエラーが発生: %v", err)
		}
		t.Cleanup(s.Close)

		if err := s.Deliver([]byte(`1`)); err != nil {
			t.Fatalf("1件目のDeliver()でエラーが発生: %v", err)
		}
		if err := s.Deliver([]byte(`2`)); !errors.Is(err, ErrQueueFull) {
			t.Errorf("2件目のDeliver: got %v, want ErrQueueFull", err)
		}
	})
}
