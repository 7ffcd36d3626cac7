package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/google/uuid"
	notificationdb "github.com/nao1215/campushub/internal/notification/db"
)

var (
	// ErrNotFound は通知が存在しない場合のエラー。
	ErrNotFound = errors.New("通知が見つかりません")
	// ErrNotOwner は他ユーザーの通知を操作しようとした場合のエラー。
	ErrNotOwner = errors.New("この通知の所有者ではありません")
	// ErrPartialWrite は一括作成で一部の宛先への保存に失敗した場合のエラー。
	// 呼び出し側は失敗した宛先について再実行してよい。
	ErrPartialWrite = errors.New("一部の通知の保存に失敗しました")
	// ErrInvalidContent は通知内容が不正な場合のエラー。
	ErrInvalidContent = errors.New("通知内容が不正です")
)

// Category は通知の種類。
type Category string

const (
	// CategoryLostFound は落とし物に関する通知。
	CategoryLostFound Category = "lost_found"
	// CategoryEvent はイベントに関する通知。
	CategoryEvent Category = "event"
	// CategoryFeedback はフィードバックに関する通知。
	CategoryFeedback Category = "feedback"
	// CategoryClub はクラブに関する通知。
	CategoryClub Category = "club"
	// CategoryGeneral はその他の通知。
	CategoryGeneral Category = "general"
)

// Valid は定義済みの種類かどうかを返す。
func (c Category) Valid() bool {
	switch c {
	case CategoryLostFound, CategoryEvent, CategoryFeedback, CategoryClub, CategoryGeneral:
		return true
	}
	return false
}

// Content は宛先に依存しない通知の内容。
type Content struct {
	// Type は通知の種類。空の場合はgeneralとして扱う。
	Type Category `json:"type"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知本文。
	Message string `json:"message"`
	// Link は遷移先リンク。空の場合はリンクなし。
	Link string `json:"link,omitempty"`
}

// normalize は内容を検証し、省略された種類を補う。
func (c Content) normalize() (Content, error) {
	if c.Type == "" {
		c.Type = CategoryGeneral
	}
	if !c.Type.Valid() {
		return c, fmt.Errorf("%w: 種類 %q は定義されていません", ErrInvalidContent, c.Type)
	}
	if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Message) == "" {
		return c, fmt.Errorf("%w: タイトルとメッセージは必須です", ErrInvalidContent)
	}
	return c, nil
}

// insertBackoff は1件の保存に失敗した場合の再試行間隔。
var insertBackoff = retrier.ConstantBackoff(3, 100*time.Millisecond)

// Store は通知レコードの永続化を行う。
// レコードは追記のみで、既読フラグ以外は作成後に変更しない。
type Store struct {
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *notificationdb.Queries
	// now は作成日時に使う現在時刻関数。
	now func() time.Time
}

// NewStore は新しいStoreを生成する。
func NewStore(db notificationdb.DBTX) *Store {
	return &Store{
		queries: notificationdb.New(db),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateOne は1件の通知を保存して返す。
func (s *Store) CreateOne(ctx context.Context, userID string, content Content) (notificationdb.Notification, error) {
	content, err := content.normalize()
	if err != nil {
		return notificationdb.Notification{}, err
	}
	n, err := s.insert(ctx, userID, content, s.now())
	if err != nil {
		return notificationdb.Notification{}, fmt.Errorf("通知の保存に失敗: user=%s: %w", userID, err)
	}
	return n, nil
}

// CreateMany は宛先ごとに1件ずつ通知を保存し、保存できたレコードを返す。
// 宛先ごとの保存は独立しており、失敗した宛先はログに記録したうえで
// ErrPartialWrite を返す。成功分はロールバックしない。
func (s *Store) CreateMany(ctx context.Context, userIDs []string, content Content) ([]notificationdb.Notification, error) {
	content, err := content.normalize()
	if err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	createdAt := s.now()
	created := make([]notificationdb.Notification, 0, len(userIDs))
	var failed []string
	for _, userID := range userIDs {
		n, err := s.insert(ctx, userID, content, createdAt)
		if err != nil {
			log.Printf("[Store] 通知の保存に失敗: user=%s title=%q: %v", userID, content.Title, err)
			failed = append(failed, userID)
			continue
		}
		created = append(created, n)
	}

	if len(failed) > 0 {
		return created, fmt.Errorf("%w: %d/%d件 (users=%s)",
			ErrPartialWrite, len(failed), len(userIDs), strings.Join(failed, ","))
	}
	return created, nil
}

// insert は再試行付きで1件保存する。
func (s *Store) insert(ctx context.Context, userID string, content Content, createdAt time.Time) (notificationdb.Notification, error) {
	params := notificationdb.CreateNotificationParams{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      string(content.Type),
		Title:     content.Title,
		Message:   content.Message,
		Link:      sql.NullString{String: content.Link, Valid: content.Link != ""},
		CreatedAt: createdAt,
	}

	r := retrier.New(insertBackoff, nil)
	if err := r.RunCtx(ctx, func(ctx context.Context) error {
		return s.queries.CreateNotification(ctx, params)
	}); err != nil {
		return notificationdb.Notification{}, err
	}

	return notificationdb.Notification{
		ID:        params.ID,
		UserID:    params.UserID,
		Type:      params.Type,
		Title:     params.Title,
		Message:   params.Message,
		Link:      params.Link,
		CreatedAt: params.CreatedAt,
	}, nil
}

// Get は通知を1件取得する。
func (s *Store) Get(ctx context.Context, id string) (notificationdb.Notification, error) {
	n, err := s.queries.GetNotificationByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	if err != nil {
		return n, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return n, nil
}

// MarkRead は通知を既読にして更新後のレコードを返す。
// 所有者以外はErrNotOwnerになる。既読の通知に対しては何もせず成功する。
func (s *Store) MarkRead(ctx context.Context, id, userID string) (notificationdb.Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return n, err
	}
	if n.UserID != userID {
		return notificationdb.Notification{}, ErrNotOwner
	}
	if n.IsRead != 0 {
		return n, nil
	}
	if err := s.queries.MarkAsRead(ctx, id); err != nil {
		return n, fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	n.IsRead = 1
	return n, nil
}

// MarkAllRead はユーザーの未読通知を全て既読にし、更新件数を返す。
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.queries.MarkAllAsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return count, nil
}

// List はユーザーの通知を新しい順に返す。
func (s *Store) List(ctx context.Context, userID string, limit, offset int64) ([]notificationdb.Notification, error) {
	ns, err := s.queries.ListNotificationsByUserID(ctx, notificationdb.ListNotificationsByUserIDParams{
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return ns, nil
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (s *Store) ListUnread(ctx context.Context, userID string) ([]notificationdb.Notification, error) {
	ns, err := s.queries.ListUnreadNotifications(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return ns, nil
}

// CountUnread はユーザーの未読通知数を返す。
func (s *Store) CountUnread(ctx context.Context, userID string) (int64, error) {
	count, err := s.queries.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}
	return count, nil
}
