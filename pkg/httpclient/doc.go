// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// 通知サービスがアカウントサービスのユーザーディレクトリを参照する際など、
// 内部APIへのJSONリクエストのパターンを統一する。
package httpclient
