package notification

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nao1215/campushub/pkg/realtime"
)

// recordingEndpoint は受信したペイロードを記録するテスト用エンドポイント。
type recordingEndpoint struct {
	id     string
	userID string

	mu       sync.Mutex
	payloads [][]byte
}

func (e *recordingEndpoint) ID() string     { return e.id }
func (e *recordingEndpoint) UserID() string { return e.userID }
func (e *recordingEndpoint) Close()         {}

func (e *recordingEndpoint) Deliver(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, payload)
	return nil
}

func (e *recordingEndpoint) received() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.payloads...)
}

// connect はユーザーの接続を模してGroupsForのグループへ参加させる。
func connect(t *testing.T, r *realtime.Registry, userID, role string) *recordingEndpoint {
	t.Helper()
	ep := &recordingEndpoint{id: "conn-" + userID, userID: userID}
	for _, g := range realtime.GroupsFor(userID, role) {
		if err := r.Join(g, ep); err != nil {
			t.Fatalf("グループへの参加に失敗: %v", err)
		}
	}
	return ep
}

// notifierFixture は通知テストで使う一式。
type notifierFixture struct {
	notifier *Notifier
	store    *Store
	registry *realtime.Registry
}

func newNotifierFixture(t *testing.T, dir Directory) notifierFixture {
	t.Helper()
	sqlDB := setupTestDB(t)
	if dir == nil {
		dir = NewSQLiteDirectory(sqlDB)
	}
	registry := realtime.NewRegistry()
	t.Cleanup(registry.Close)
	store := NewStore(sqlDB)
	return notifierFixture{
		notifier: NewNotifier(NewResolver(dir), store, registry),
		store:    store,
		registry: registry,
	}
}

func countFor(t *testing.T, store *Store, userID string) int {
	t.Helper()
	ns, err := store.List(t.Context(), userID, 100, 0)
	if err != nil {
		t.Fatalf("List()でエラーが発生: %v", err)
	}
	return len(ns)
}

func TestNotifyAudience(t *testing.T) {
	t.Parallel()

	t.Run("落とし物を報告した本人と無効ユーザーには保存も配信もされないこと", func(t *testing.T) {
		t.Parallel()
		sqlDB := setupTestDB(t)
		seedUser(t, sqlDB, "U", RoleStudent, true)
		seedUser(t, sqlDB, "A", RoleStudent, true)
		seedUser(t, sqlDB, "B", RoleFaculty, true)
		seedUser(t, sqlDB, "C", RoleStudent, false)

		registry := realtime.NewRegistry()
		t.Cleanup(registry.Close)
		store := NewStore(sqlDB)
		n := NewNotifier(NewResolver(NewSQLiteDirectory(sqlDB)), store, registry)

		conns := map[string]*recordingEndpoint{
			"U": connect(t, registry, "U", RoleStudent),
			"A": connect(t, registry, "A", RoleStudent),
			"B": connect(t, registry, "B", RoleFaculty),
			"C": connect(t, registry, "C", RoleStudent),
		}

		created, err := n.NotifyAudience(t.Context(), AllActive(), Content{
			Type: CategoryLostFound, Title: "🔍 Lost: 財布", Message: "図書館で紛失", Link: "/lost-found/1",
		}, "U")
		if err != nil {
			t.Fatalf("NotifyAudience()でエラーが発生: %v", err)
		}
		if created != 2 {
			t.Errorf("保存件数: got %d, want 2", created)
		}

		wantRecords := map[string]int{"U": 0, "A": 1, "B": 1, "C": 0}
		for userID, want := range wantRecords {
			if got := countFor(t, store, userID); got != want {
				t.Errorf("%sの保存件数: got %d, want %d", userID, got, want)
			}
			if got := len(conns[userID].received()); got != want {
				t.Errorf("%sの受信件数: got %d, want %d", userID, got, want)
			}
		}
	})

	t.Run("ROLE指定では対象ロールの接続にだけ配信されること", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{
			active: []string{"S", "F"},
			byRole: map[string][]string{RoleFaculty: {"F"}, RoleStudent: {"S"}},
		})
		student := connect(t, f.registry, "S", RoleStudent)
		faculty := connect(t, f.registry, "F", RoleFaculty)

		created, err := f.notifier.NotifyAudience(t.Context(), ForRole(RoleFaculty), testContent, "")
		if err != nil {
			t.Fatalf("NotifyAudience()でエラーが発生: %v", err)
		}
		if created != 1 {
			t.Errorf("保存件数: got %d, want 1", created)
		}
		if len(student.received()) != 0 {
			t.Error("対象外ロールの接続に配信された")
		}
		if len(faculty.received()) != 1 {
			t.Errorf("対象ロールの受信件数: got %d, want 1", len(faculty.received()))
		}
	})

	t.Run("ディレクトリ障害時はエラーにならず何も保存しないこと", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{err: errors.New("unreachable")})
		ep := connect(t, f.registry, "A", RoleStudent)

		created, err := f.notifier.NotifyAudience(t.Context(), AllActive(), testContent, "")
		if err != nil {
			t.Fatalf("NotifyAudience()がエラーを返した: %v", err)
		}
		if created != 0 || len(ep.received()) != 0 {
			t.Errorf("保存=%d 受信=%d, want 0 0", created, len(ep.received()))
		}
	})

	t.Run("配信ペイロードから通知内容を復元できること", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{active: []string{"A"}})
		ep := connect(t, f.registry, "A", RoleStudent)

		if _, err := f.notifier.NotifyAudience(t.Context(), AllActive(), testContent, ""); err != nil {
			t.Fatalf("NotifyAudience()でエラーが発生: %v", err)
		}
		payloads := ep.received()
		if len(payloads) != 1 {
			t.Fatalf("受信件数: got %d, want 1", len(payloads))
		}

		var got struct {
			Type    Category `json:"type"`
			Title   string   `json:"title"`
			Message string   `json:"message"`
			Link    *string  `json:"link"`
		}
		if err := json.Unmarshal(payloads[0], &got); err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		if got.Type != testContent.Type || got.Title != testContent.Title ||
			got.Message != testContent.Message || got.Link == nil || *got.Link != testContent.Link {
			t.Errorf("復元した内容: got %+v, want %+v", got, testContent)
		}
	})

	t.Run("不正な宛先指定はErrUnknownAudienceになること", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{})

		if _, err := f.notifier.NotifyAudience(t.Context(), ForRole("guest"), testContent, ""); !errors.Is(err, ErrUnknownAudience) {
			t.Errorf("err = %v, want ErrUnknownAudience", err)
		}
	})
}

func TestNotifyUser(t *testing.T) {
	t.Parallel()

	t.Run("匿名フィードバックへの返信は投稿者本人に1件届くこと", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{})
		submitter := connect(t, f.registry, "submitter", RoleStudent)
		other := connect(t, f.registry, "other", RoleStudent)

		rec, err := f.notifier.NotifyUser(t.Context(), "submitter", Content{
			Type: CategoryFeedback, Title: "💬 Response to: 食堂", Message: "対応しました",
		})
		if err != nil {
			t.Fatalf("NotifyUser()でエラーが発生: %v", err)
		}
		if rec.UserID != "submitter" {
			t.Errorf("宛先: got %q, want submitter", rec.UserID)
		}
		if len(submitter.received()) != 1 || len(other.received()) != 0 {
			t.Errorf("受信件数: submitter=%d other=%d, want 1 0", len(submitter.received()), len(other.received()))
		}

		var payload map[string]any
		_ = json.Unmarshal(submitter.received()[0], &payload)
		if v, ok := payload["link"]; !ok || v != nil {
			t.Errorf("リンクなしの場合linkはnullであるべき: got %v", payload)
		}
	})

	t.Run("未接続のユーザーにも保存されること", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{})

		if _, err := f.notifier.NotifyUser(t.Context(), "offline", testContent); err != nil {
			t.Fatalf("NotifyUser()でエラーが発生: %v", err)
		}
		if countFor(t, f.store, "offline") != 1 {
			t.Error("未接続ユーザーの通知が保存されていない")
		}
	})

	t.Run("保存に失敗した場合はエラーを返し配信しないこと", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{})
		ep := connect(t, f.registry, "u", RoleStudent)

		if _, err := f.notifier.NotifyUser(t.Context(), "u", Content{Type: "bogus", Title: "t", Message: "m"}); err == nil {
			t.Fatal("NotifyUser()がエラーを返すべきだが、nilが返った")
		}
		if len(ep.received()) != 0 {
			t.Error("保存に失敗した通知が配信された")
		}
	})
}

func TestNotifyGroup(t *testing.T) {
	t.Parallel()

	t.Run("指定メンバーにだけ保存しグループと個別グループに1回ずつ配信すること", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{})
		member := connect(t, f.registry, "m1", RoleStudent)
		// クラブグループにも参加している接続
		if err := f.registry.Join(realtime.ClubGroup("7"), member); err != nil {
			t.Fatalf("Join()でエラーが発生: %v", err)
		}
		outsider := connect(t, f.registry, "x", RoleStudent)

		created, err := f.notifier.NotifyGroup(t.Context(), realtime.ClubGroup("7"), testContent, "m1", "m2", "m1")
		if err != nil {
			t.Fatalf("NotifyGroup()でエラーが発生: %v", err)
		}
		if created != 2 {
			t.Errorf("保存件数: got %d, want 2", created)
		}
		if len(member.received()) != 1 {
			t.Errorf("メンバーの受信件数: got %d, want 1", len(member.received()))
		}
		if len(outsider.received()) != 0 || countFor(t, f.store, "x") != 0 {
			t.Error("メンバー外に保存または配信された")
		}
	})

	t.Run("Notifyの除外指定はGROUPにも適用されること", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{})

		created, err := f.notifier.Notify(t.Context(), Intent{
			Audience: Group(realtime.ClubGroup("1"), "poster", "member"),
			Content:  testContent,
			Exclude:  "poster",
		})
		if err != nil {
			t.Fatalf("Notify()でエラーが発生: %v", err)
		}
		if created != 1 || countFor(t, f.store, "poster") != 0 {
			t.Errorf("保存件数: got %d, 投稿者の通知=%d", created, countFor(t, f.store, "poster"))
		}
	})
}

func TestNotifyChannel(t *testing.T) {
	t.Parallel()

	t.Run("Channel指定時は管理者グループの対象ユーザーにだけ配信されること", func(t *testing.T) {
		t.Parallel()
		f := newNotifierFixture(t, &fakeDirectory{byRole: map[string][]string{RoleAdmin: {"adm"}}})
		admin := connect(t, f.registry, "adm", RoleAdmin)
		faculty := connect(t, f.registry, "fac", RoleFaculty)

		created, err := f.notifier.Notify(t.Context(), Intent{
			Audience: ForRole(RoleAdmin),
			Content:  Content{Type: CategoryFeedback, Title: "新しいフィードバック", Message: "本文"},
			Channel:  realtime.GroupAdmin,
		})
		if err != nil {
			t.Fatalf("Notify()でエラーが発生: %v", err)
		}
		if created != 1 || len(admin.received()) != 1 || len(faculty.received()) != 0 {
			t.Errorf("保存=%d admin=%d faculty=%d, want 1 1 0", created, len(admin.received()), len(faculty.received()))
		}
	})
}
