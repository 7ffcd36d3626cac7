package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeItem は落とし物・拾得物エンティティを表す。
	AggregateTypeItem AggregateType = "Item"
	// AggregateTypeClaim は拾得物の受け取り申請エンティティを表す。
	AggregateTypeClaim AggregateType = "Claim"
	// AggregateTypeEvent は学内イベントエンティティを表す。
	AggregateTypeEvent AggregateType = "Event"
	// AggregateTypeClub はクラブエンティティを表す。
	AggregateTypeClub AggregateType = "Club"
	// AggregateTypeFeedback はフィードバックエンティティを表す。
	AggregateTypeFeedback AggregateType = "Feedback"
)

// Type はドメインイベントの種類を表す。
type Type string

const (
	// TypeItemReported は落とし物・拾得物が報告されたことを表す。
	TypeItemReported Type = "ItemReported"
	// TypeItemClaimed は拾得物に受け取り申請が出されたことを表す。
	TypeItemClaimed Type = "ItemClaimed"
	// TypeClaimApproved は受け取り申請が承認されたことを表す。
	TypeClaimApproved Type = "ClaimApproved"
	// TypeClaimRejected は受け取り申請が却下されたことを表す。
	TypeClaimRejected Type = "ClaimRejected"

	// TypeEventCreated は学内イベントが作成されたことを表す。
	TypeEventCreated Type = "EventCreated"
	// TypeEventUpdated は学内イベントが更新されたことを表す。
	TypeEventUpdated Type = "EventUpdated"
	// TypeEventRegistered は学内イベントへの参加登録があったことを表す。
	TypeEventRegistered Type = "EventRegistered"

	// TypeClubCreated はクラブが作成されたことを表す。
	TypeClubCreated Type = "ClubCreated"
	// TypeClubUpdated はクラブ情報が更新されたことを表す。
	TypeClubUpdated Type = "ClubUpdated"
	// TypeClubJoined はクラブに新しいメンバーが参加したことを表す。
	TypeClubJoined Type = "ClubJoined"
	// TypeClubActivityPosted はクラブ活動が投稿されたことを表す。
	TypeClubActivityPosted Type = "ClubActivityPosted"

	// TypeFeedbackSubmitted はフィードバックが投稿されたことを表す。
	TypeFeedbackSubmitted Type = "FeedbackSubmitted"
	// TypeFeedbackResponded はフィードバックに回答があったことを表す。
	TypeFeedbackResponded Type = "FeedbackResponded"
	// TypeFeedbackAssigned はフィードバックが担当者に割り当てられたことを表す。
	TypeFeedbackAssigned Type = "FeedbackAssigned"
)

// allTypes は定義済みのイベント種類の集合。
var allTypes = map[Type]struct{}{
	TypeItemReported:       {},
	TypeItemClaimed:        {},
	TypeClaimApproved:      {},
	TypeClaimRejected:      {},
	TypeEventCreated:       {},
	TypeEventUpdated:       {},
	TypeEventRegistered:    {},
	TypeClubCreated:        {},
	TypeClubUpdated:        {},
	TypeClubJoined:         {},
	TypeClubActivityPosted: {},
	TypeFeedbackSubmitted:  {},
	TypeFeedbackResponded:  {},
	TypeFeedbackAssigned:   {},
}

// Valid は定義済みのイベント種類かどうかを返す。
func (t Type) Valid() bool {
	_, ok := allTypes[t]
	return ok
}

// Event はドメインモジュールが発行するイベントを表す。
// 通知サービスはこれを受け取り、通知の宛先と内容に変換する。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// ActorID はイベントを引き起こしたユーザーのID。
	ActorID string `json:"actor_id"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// ItemReportedData はItemReportedイベントのデータ。
type ItemReportedData struct {
	// ItemType は "lost" または "found"。
	ItemType string `json:"item_type"`
	// Title はアイテム名。
	Title string `json:"title"`
	// Location は紛失・発見場所。
	Location string `json:"location"`
	// ReporterName は報告者の表示名。
	ReporterName string `json:"reporter_name"`
}

// ItemClaimedData はItemClaimedイベントのデータ。
type ItemClaimedData struct {
	// ItemTitle は申請対象のアイテム名。
	ItemTitle string `json:"item_title"`
	// ReporterID はアイテムを報告したユーザーのID。
	ReporterID string `json:"reporter_id"`
	// ClaimerName は申請者の表示名。
	ClaimerName string `json:"claimer_name"`
}

// ClaimDecisionData はClaimApproved / ClaimRejectedイベントのデータ。
type ClaimDecisionData struct {
	// ItemID は対象アイテムのID。
	ItemID string `json:"item_id"`
	// ItemTitle は対象アイテム名。
	ItemTitle string `json:"item_title"`
	// ClaimerID は申請者のID。
	ClaimerID string `json:"claimer_id"`
	// AdminNotes は承認者のメモ。
	AdminNotes string `json:"admin_notes,omitempty"`
}

// CampusEventData はEventCreated / EventUpdatedイベントのデータ。
type CampusEventData struct {
	// Title はイベント名。
	Title string `json:"title"`
	// Venue は開催場所。
	Venue string `json:"venue"`
	// StartsAt は開始日時（RFC3339形式）。
	StartsAt string `json:"starts_at"`
	// ActorName は作成・更新したユーザーの表示名。
	ActorName string `json:"actor_name"`
	// ActorRole は作成・更新したユーザーのロール。
	ActorRole string `json:"actor_role"`
}

// EventRegisteredData はEventRegisteredイベントのデータ。
type EventRegisteredData struct {
	// EventTitle はイベント名。
	EventTitle string `json:"event_title"`
	// OrganizerID は主催者のID。
	OrganizerID string `json:"organizer_id"`
	// ParticipantName は参加者の表示名。
	ParticipantName string `json:"participant_name"`
}

// ClubData はClubCreated / ClubUpdatedイベントのデータ。
type ClubData struct {
	// Name はクラブ名。
	Name string `json:"name"`
	// Category はクラブの分類。
	Category string `json:"category"`
	// ActorName は作成・更新したユーザーの表示名。
	ActorName string `json:"actor_name"`
	// ActorRole は作成・更新したユーザーのロール。
	ActorRole string `json:"actor_role"`
}

// ClubJoinedData はClubJoinedイベントのデータ。
type ClubJoinedData struct {
	// ClubName はクラブ名。
	ClubName string `json:"club_name"`
	// MemberName は参加したメンバーの表示名。
	MemberName string `json:"member_name"`
	// CoordinatorIDs は通知先となるコーディネーター・代表者のID。
	CoordinatorIDs []string `json:"coordinator_ids"`
}

// ClubActivityData はClubActivityPostedイベントのデータ。
type ClubActivityData struct {
	// ClubName はクラブ名。
	ClubName string `json:"club_name"`
	// Title は活動のタイトル。
	Title string `json:"title"`
	// ActivityType は活動の種類（meeting, workshop など）。
	ActivityType string `json:"activity_type"`
	// MemberIDs は通知を保存するクラブメンバーのID。
	MemberIDs []string `json:"member_ids"`
}

// FeedbackSubmittedData はFeedbackSubmittedイベントのデータ。
type FeedbackSubmittedData struct {
	// Subject はフィードバックの件名。
	Subject string `json:"subject"`
	// Category はフィードバックの分類。
	Category string `json:"category"`
	// SubmitterID は投稿者のID。匿名投稿でも内部的に保持する。
	SubmitterID string `json:"submitter_id"`
	// SubmitterName は投稿者の表示名。
	SubmitterName string `json:"submitter_name"`
	// Anonymous は匿名投稿かどうか。
	Anonymous bool `json:"anonymous"`
}

// FeedbackRespondedData はFeedbackRespondedイベントのデータ。
type FeedbackRespondedData struct {
	// Subject はフィードバックの件名。
	Subject string `json:"subject"`
	// SubmitterID は元の投稿者のID。
	SubmitterID string `json:"submitter_id"`
	// ResponderName は回答者の表示名。
	ResponderName string `json:"responder_name"`
	// Status は回答後のステータス。
	Status string `json:"status,omitempty"`
}

// FeedbackAssignedData はFeedbackAssignedイベントのデータ。
type FeedbackAssignedData struct {
	// Subject はフィードバックの件名。
	Subject string `json:"subject"`
	// AssigneeID は担当者のID。
	AssigneeID string `json:"assignee_id"`
}
