// Package config は通知サービスの設定を環境変数から読み込む。
//
// 起動ディレクトリに .env ファイルがあれば先に読み込み、
// 既に設定済みの環境変数は上書きしない。
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ユーザーディレクトリのバックエンド種別。
const (
	// DirectorySQLite はローカルSQLiteのusersテーブルを参照する。
	DirectorySQLite = "sqlite"
	// DirectoryHTTP はアカウントサービスの内部APIを参照する。
	DirectoryHTTP = "http"
	// DirectoryMongo はドキュメントストアのユーザーミラーを参照する。
	DirectoryMongo = "mongo"
)

// defaultJWTSecret は開発用のJWT署名鍵。
const defaultJWTSecret = "dev-secret-key"

// Config は通知サービスの実行時設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string
	// JWTSecret はJWTの署名検証に使う鍵。
	JWTSecret string
	// AllowedOrigins はCORSとWebSocketで許可するオリジン。
	AllowedOrigins []string
	// InternalToken は内部APIの認証トークン。空の場合は検証しない。
	InternalToken string
	// DirectoryBackend はユーザーディレクトリの種別。
	DirectoryBackend string
	// AccountsURL はアカウントサービスのベースURL。
	AccountsURL string
	// MongoURI はユーザーミラーの接続URI。
	MongoURI string
	// MongoDatabase はユーザーミラーのデータベース名。
	MongoDatabase string
	// PushQueueSize は接続ごとの送信キューの長さ。
	PushQueueSize int
	// PushWriteTimeout は1フレームの書き込みタイムアウト。
	PushWriteTimeout time.Duration
	// DispatchQueueSize はドメインイベントのキュー長。
	DispatchQueueSize int
	// DispatchWorkers はドメインイベントを処理するワーカー数。
	DispatchWorkers int
	// WSMessagesPerSecond はクライアントから受け付ける毎秒のメッセージ数。
	WSMessagesPerSecond int
	// DevTokenEnabled は開発用トークン発行エンドポイントを有効にするか。
	DevTokenEnabled bool
	// EventFeedURL はポーリングするイベントフィードのベースURL。空の場合はポーリングしない。
	EventFeedURL string
	// EventFeedInterval はイベントフィードのポーリング間隔。
	EventFeedInterval time.Duration
}

// Load は .env と環境変数から設定を読み込んで検証する。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Config] .envファイルの読み込みに失敗: %v", err)
	}

	cfg := &Config{
		Port:                getEnvOr("PORT", "8086"),
		DatabasePath:        getEnvOr("DATABASE_PATH", "/data/notification.db"),
		JWTSecret:           getEnvOr("JWT_SECRET", defaultJWTSecret),
		AllowedOrigins:      splitList(getEnvOr("FRONTEND_URL", "http://localhost:3000")),
		InternalToken:       os.Getenv("INTERNAL_TOKEN"),
		DirectoryBackend:    strings.ToLower(getEnvOr("DIRECTORY_BACKEND", DirectorySQLite)),
		AccountsURL:         getEnvOr("ACCOUNTS_URL", "http://localhost:8081"),
		MongoURI:            getEnvOr("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:       getEnvOr("MONGODB_DB_NAME", "campus_hub"),
		PushQueueSize:       getEnvInt("PUSH_QUEUE_SIZE", 32),
		PushWriteTimeout:    time.Duration(getEnvInt("PUSH_WRITE_TIMEOUT_MS", 5000)) * time.Millisecond,
		DispatchQueueSize:   getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		DispatchWorkers:     getEnvInt("DISPATCH_WORKERS", 2),
		WSMessagesPerSecond: getEnvInt("WS_MESSAGES_PER_SECOND", 5),
		DevTokenEnabled:     getEnvBool("DEV_TOKEN_ENABLED", false),
		EventFeedURL:        os.Getenv("EVENT_FEED_URL"),
		EventFeedInterval:   time.Duration(getEnvInt("EVENT_FEED_INTERVAL_MS", 2000)) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == defaultJWTSecret {
		log.Printf("[Config] JWT_SECRETが未設定のため開発用の鍵を使用します")
	}
	return cfg, nil
}

// validate は設定値の整合性を検証する。
func (c *Config) validate() error {
	switch c.DirectoryBackend {
	case DirectorySQLite, DirectoryHTTP, DirectoryMongo:
	default:
		return fmt.Errorf("DIRECTORY_BACKENDが不正です: %q", c.DirectoryBackend)
	}
	if c.PushQueueSize <= 0 {
		return fmt.Errorf("PUSH_QUEUE_SIZEは1以上である必要があります: %d", c.PushQueueSize)
	}
	if c.PushWriteTimeout <= 0 {
		return fmt.Errorf("PUSH_WRITE_TIMEOUT_MSは1以上である必要があります")
	}
	if c.DispatchQueueSize <= 0 || c.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZEとDISPATCH_WORKERSは1以上である必要があります")
	}
	if c.EventFeedURL != "" && c.EventFeedInterval <= 0 {
		return fmt.Errorf("EVENT_FEED_INTERVAL_MSは1以上である必要があります")
	}
	if c.WSMessagesPerSecond <= 0 {
		return fmt.Errorf("WS_MESSAGES_PER_SECONDは1以上である必要があります: %d", c.WSMessagesPerSecond)
	}
	return nil
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvInt は整数の環境変数を返す。解釈できない場合はログを出してデフォルト値を使う。
func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[Config] %sの値が整数ではありません（%q）。デフォルト値 %d を使用します", key, v, defaultValue)
		return defaultValue
	}
	return n
}

// getEnvBool は真偽値の環境変数を返す。
func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[Config] %sの値が真偽値ではありません（%q）。デフォルト値 %t を使用します", key, v, defaultValue)
		return defaultValue
	}
	return b
}

// splitList はカンマ区切りの文字列を空要素を除いて分割する。
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
