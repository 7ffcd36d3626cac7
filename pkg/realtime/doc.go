// Package realtime はWebSocket接続へのリアルタイム配信を提供する。
//
// Registry はグループ名から接続中のエンドポイント集合への対応を保持し、
// グループ単位のファンアウト送信を行う。Session は1本のWebSocket接続を表し、
// 接続時に所属グループへ参加し、切断時に全グループから離脱する。
//
// 送信はエンドポイントごとの有界キューへの投入のみで完了し、
// 遅いクライアントが他のクライアントへの配信を止めることはない。
package realtime
