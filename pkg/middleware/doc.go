// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証（ヘッダーとWebSocket用のクエリパラメータ）、
// サービス間呼び出しの共有トークン検証、パニックリカバリ、CORS設定を含む。
package middleware
