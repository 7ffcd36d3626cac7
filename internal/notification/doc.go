// Package notification はキャンパス通知サービスの内部実装を提供する。
//
// ドメイン処理（落とし物、イベント、クラブ、フィードバック）から通知依頼を受け取り、
// 宛先ユーザーを解決して1人1件ずつ保存したうえで、接続中のクライアントへ
// WebSocketで配信する。保存は必ず試み、配信はベストエフォートで行う。
// 通知の一覧取得や既読管理のREST APIも提供する。
//
// ドメインイベントは内部APIで受け取るか、イベントフィードをポーリングして取り込む。
// 受信済みのイベントは記録しておき、再送されても通知を重複させない。
package notification
