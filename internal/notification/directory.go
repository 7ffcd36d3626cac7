package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	notificationdb "github.com/nao1215/campushub/internal/notification/db"
	"github.com/nao1215/campushub/pkg/httpclient"
	"github.com/sony/gobreaker/v2"
)

// Directory は通知対象となるユーザーを検索する。
type Directory interface {
	// ListActive は有効な全ユーザーのIDを返す。
	ListActive(ctx context.Context) ([]string, error)
	// ListActiveByRole は指定ロールの有効ユーザーのIDを返す。
	ListActiveByRole(ctx context.Context, role string) ([]string, error)
}

// DirectoryUser はディレクトリに同期するユーザー情報。
type DirectoryUser struct {
	// ID はユーザーID。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// Role はロール。
	Role string `json:"role"`
	// IsActive はアカウントが有効かどうか。
	IsActive bool `json:"is_active"`
}

// SQLiteDirectory はローカルのusersテーブルを参照するディレクトリ。
// usersテーブルは内部APIからアカウントサービスの変更を同期して保つ。
type SQLiteDirectory struct {
	queries *notificationdb.Queries
}

// NewSQLiteDirectory は新しいSQLiteDirectoryを生成する。
func NewSQLiteDirectory(db notificationdb.DBTX) *SQLiteDirectory {
	return &SQLiteDirectory{queries: notificationdb.New(db)}
}

// ListActive は有効な全ユーザーのIDを返す。
func (d *SQLiteDirectory) ListActive(ctx context.Context) ([]string, error) {
	ids, err := d.queries.ListActiveUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("有効ユーザーの取得に失敗: %w", err)
	}
	return ids, nil
}

// ListActiveByRole は指定ロールの有効ユーザーのIDを返す。
func (d *SQLiteDirectory) ListActiveByRole(ctx context.Context, role string) ([]string, error) {
	ids, err := d.queries.ListActiveUserIDsByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("ロール別ユーザーの取得に失敗: %w", err)
	}
	return ids, nil
}

// Upsert はユーザー情報を登録または更新する。
func (d *SQLiteDirectory) Upsert(ctx context.Context, u DirectoryUser) error {
	var active int64
	if u.IsActive {
		active = 1
	}
	if err := d.queries.UpsertUser(ctx, notificationdb.UpsertUserParams{
		ID:       u.ID,
		Email:    u.Email,
		Role:     u.Role,
		IsActive: active,
	}); err != nil {
		return fmt.Errorf("ユーザーの同期に失敗: %w", err)
	}
	return nil
}

// activeUsersPath はアカウントサービスの有効ユーザー一覧API。
const activeUsersPath = "/api/v1/internal/users/active"

// activeUsersResponse はアカウントサービスの有効ユーザー一覧レスポンス。
type activeUsersResponse struct {
	// UserIDs は有効ユーザーのID。
	UserIDs []string `json:"user_ids"`
}

// HTTPDirectory はアカウントサービスの内部APIを参照するディレクトリ。
type HTTPDirectory struct {
	client *httpclient.Client
}

// NewHTTPDirectory は新しいHTTPDirectoryを生成する。
func NewHTTPDirectory(client *httpclient.Client) *HTTPDirectory {
	return &HTTPDirectory{client: client}
}

// ListActive は有効な全ユーザーのIDを返す。
func (d *HTTPDirectory) ListActive(ctx context.Context) ([]string, error) {
	return d.fetch(ctx, nil)
}

// ListActiveByRole は指定ロールの有効ユーザーのIDを返す。
func (d *HTTPDirectory) ListActiveByRole(ctx context.Context, role string) ([]string, error) {
	return d.fetch(ctx, url.Values{"role": {role}})
}

func (d *HTTPDirectory) fetch(ctx context.Context, query url.Values) ([]string, error) {
	var resp activeUsersResponse
	if err := d.client.GetJSON(ctx, activeUsersPath, query, &resp); err != nil {
		return nil, fmt.Errorf("アカウントサービスへの問い合わせに失敗: %w", err)
	}
	return resp.UserIDs, nil
}

// breakerTripFailures はブレーカーを開くまでに許す連続失敗回数。
const breakerTripFailures = 3

// errCallerCanceled は呼び出し元のキャンセルで中断した問い合わせを表す。
// ブレーカーはこれを失敗として数えない。
var errCallerCanceled = errors.New("呼び出し元が問い合わせを中断しました")

// BreakerDirectory は連続して失敗するディレクトリへの問い合わせを一定時間遮断する。
type BreakerDirectory struct {
	next Directory
	cb   *gobreaker.CircuitBreaker[[]string]
}

// NewBreakerDirectory はnextをサーキットブレーカーで包む。
// breakerTripFailures回連続で失敗すると開き、timeout経過後に1件だけ試行を許す。
func NewBreakerDirectory(name string, next Directory, timeout time.Duration) *BreakerDirectory {
	cb := gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errCallerCanceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("[Directory] サーキットブレーカー %s が %s から %s に変化しました", name, from, to)
		},
	})
	return &BreakerDirectory{next: next, cb: cb}
}

// ListActive は有効な全ユーザーのIDを返す。
func (d *BreakerDirectory) ListActive(ctx context.Context) ([]string, error) {
	return d.execute(ctx, d.next.ListActive)
}

// ListActiveByRole は指定ロールの有効ユーザーのIDを返す。
func (d *BreakerDirectory) ListActiveByRole(ctx context.Context, role string) ([]string, error) {
	return d.execute(ctx, func(ctx context.Context) ([]string, error) {
		return d.next.ListActiveByRole(ctx, role)
	})
}

// execute は呼び出し元のコンテキストが終了している場合の失敗をブレーカーに数えない。
func (d *BreakerDirectory) execute(ctx context.Context, fn func(context.Context) ([]string, error)) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errCallerCanceled, err)
	}
	return d.cb.Execute(func() ([]string, error) {
		ids, err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", errCallerCanceled, err)
		}
		return ids, err
	})
}

// State は現在のブレーカー状態を返す。
func (d *BreakerDirectory) State() gobreaker.State {
	return d.cb.State()
}
