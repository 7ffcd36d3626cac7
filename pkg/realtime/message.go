package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType はWebSocket上でやり取りするメッセージの種別。
type MessageType string

const (
	// MessageTypePing はクライアントからのハートビート。
	MessageTypePing MessageType = "ping"
	// MessageTypePong はpingへの応答。
	MessageTypePong MessageType = "pong"
	// MessageTypeError は受信メッセージを処理できなかったことを示す。
	MessageTypeError MessageType = "error"
)

var (
	// ErrMalformedMessage は受信メッセージがJSONオブジェクトとして解釈できない場合のエラー。
	ErrMalformedMessage = errors.New("メッセージの形式が不正です")
	// ErrUnknownMessage は受信メッセージの種別が未知の場合のエラー。
	ErrUnknownMessage = errors.New("未知のメッセージ種別です")
)

// Inbound はクライアントから受信したメッセージ。
// 現在受け付ける種別はpingのみ。
type Inbound struct {
	// Type はメッセージ種別。
	Type MessageType `json:"type"`
}

// DecodeInbound は受信フレームを検証してInboundに変換する。
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch in.Type {
	case MessageTypePing:
		return in, nil
	case "":
		return Inbound{}, fmt.Errorf("%w: typeがありません", ErrMalformedMessage)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownMessage, in.Type)
	}
}

// controlFrame はサーバーが返す制御メッセージ。
type controlFrame struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error,omitempty"`
}

// pongFrame はpingへの応答フレーム。
var pongFrame = mustMarshal(controlFrame{Type: MessageTypePong})

// errorFrame はエラー通知フレームを生成する。
func errorFrame(msg string) []byte {
	return mustMarshal(controlFrame{Type: MessageTypeError, Error: msg})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
