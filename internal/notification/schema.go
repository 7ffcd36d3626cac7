package notification

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/campushub/pkg/migration"
)

// migrations は通知サービスのスキーマ定義。sqlc.yaml のschemaもこのディレクトリを参照する。
//
//go:embed migrations/*.up.sql
var migrations embed.FS

// initSchema はSQLiteデータベースに未適用のマイグレーションを適用する。
func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
