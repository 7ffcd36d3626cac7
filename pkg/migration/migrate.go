// Package migration はSQLiteデータベースのスキーマバージョンを管理する。
// fs.FSから "000001_説明.up.sql" 形式のファイルを読み込み、
// schema_migrations テーブルに適用済みバージョンを記録する。
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"slices"
	"strconv"
	"strings"
)

// ErrDuplicateVersion は同じバージョン番号のファイルが複数存在する場合のエラー。
var ErrDuplicateVersion = errors.New("マイグレーションのバージョンが重複しています")

// upSuffix は適用対象ファイルの拡張子。
const upSuffix = ".up.sql"

// step は1件のマイグレーションファイル。
type step struct {
	version int
	name    string
	file    string
}

// Run は未適用のマイグレーションをバージョン順に適用し、新たに適用した件数を返す。
// 各マイグレーションは個別のトランザクションで実行される。
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) (int, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return 0, fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	done, err := Applied(ctx, db)
	if err != nil {
		return 0, err
	}

	steps, err := scan(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	count := 0
	for _, st := range steps {
		if slices.Contains(done, st.version) {
			continue
		}
		if err := apply(ctx, db, fsys, st); err != nil {
			return count, fmt.Errorf("マイグレーション %06d の適用に失敗: %w", st.version, err)
		}
		log.Printf("[Migration] %06d_%s を適用しました", st.version, st.name)
		count++
	}
	return count, nil
}

// Applied は適用済みバージョンを昇順で返す。
func Applied(ctx context.Context, db *sql.DB) ([]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("適用済みバージョンの読み取りに失敗: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// scan はdir直下のup.sqlファイルを集めてバージョン順に並べる。
// 命名規則に合わないファイルは無視する。
func scan(fsys fs.FS, dir string) ([]step, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var steps []step
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), upSuffix) {
			continue
		}
		prefix, rest, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: %s, %s", ErrDuplicateVersion, other, entry.Name())
		}
		seen[version] = entry.Name()
		steps = append(steps, step{
			version: version,
			name:    strings.TrimSuffix(rest, upSuffix),
			file:    path.Join(dir, entry.Name()),
		})
	}

	slices.SortFunc(steps, func(a, b step) int { return a.version - b.version })
	return steps, nil
}

// apply は1件のマイグレーションとバージョン記録を同一トランザクションで実行する。
func apply(ctx context.Context, db *sql.DB, fsys fs.FS, st step) error {
	content, err := fs.ReadFile(fsys, st.file)
	if err != nil {
		return fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("SQL実行に失敗: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", st.version, st.name,
	); err != nil {
		return fmt.Errorf("バージョン記録に失敗: %w", err)
	}
	return tx.Commit()
}
