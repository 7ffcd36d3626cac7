package notification

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/nao1215/campushub/pkg/event"
	"github.com/nao1215/campushub/pkg/realtime"
)

var (
	// ErrUnsupportedEvent は通知に変換できないドメインイベントのエラー。
	ErrUnsupportedEvent = errors.New("通知対象外のイベントです")
	// ErrMalformedEvent はイベントデータを解釈できない場合のエラー。
	ErrMalformedEvent = errors.New("イベントデータが不正です")
)

// Translate はドメインイベントを通知依頼に変換する。
// 1つのイベントから複数の依頼が生成されることがある。
func Translate(ev *event.Event) ([]Intent, error) {
	if ev == nil || !ev.EventType.Valid() {
		return nil, ErrUnsupportedEvent
	}

	switch ev.EventType {
	case event.TypeItemReported:
		return decodeAndBuild(ev, itemReported)
	case event.TypeItemClaimed:
		return decodeAndBuild(ev, itemClaimed)
	case event.TypeClaimApproved, event.TypeClaimRejected:
		return decodeAndBuild(ev, claimDecided)
	case event.TypeEventCreated, event.TypeEventUpdated:
		return decodeAndBuild(ev, campusEventChanged)
	case event.TypeEventRegistered:
		return decodeAndBuild(ev, eventRegistered)
	case event.TypeClubCreated, event.TypeClubUpdated:
		return decodeAndBuild(ev, clubChanged)
	case event.TypeClubJoined:
		return decodeAndBuild(ev, clubJoined)
	case event.TypeClubActivityPosted:
		return decodeAndBuild(ev, clubActivityPosted)
	case event.TypeFeedbackSubmitted:
		return decodeAndBuild(ev, feedbackSubmitted)
	case event.TypeFeedbackResponded:
		return decodeAndBuild(ev, feedbackResponded)
	case event.TypeFeedbackAssigned:
		return decodeAndBuild(ev, feedbackAssigned)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.EventType)
	}
}

// decodeAndBuild はイベントデータをTにデコードしてbuildに渡す。
func decodeAndBuild[T any](ev *event.Event, build func(*event.Event, *T) []Intent) ([]Intent, error) {
	data, err := event.DecodeData[T](ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, ev.EventType, err)
	}
	return build(ev, data), nil
}

func itemReported(ev *event.Event, d *event.ItemReportedData) []Intent {
	emoji := "🔍"
	if d.ItemType == "found" {
		emoji = "✅"
	}
	return []Intent{{
		Audience: AllActive(),
		Content: Content{
			Type:    CategoryLostFound,
			Title:   fmt.Sprintf("%s %s: %s", emoji, titleCase(d.ItemType), d.Title),
			Message: fmt.Sprintf("%s reported a %s item: %s at %s", d.ReporterName, d.ItemType, d.Title, d.Location),
			Link:    "/lost-found/" + ev.AggregateID,
		},
		Exclude: ev.ActorID,
	}}
}

func itemClaimed(ev *event.Event, d *event.ItemClaimedData) []Intent {
	return []Intent{{
		Audience: Single(d.ReporterID),
		Content: Content{
			Type:    CategoryLostFound,
			Title:   "📦 New claim: " + d.ItemTitle,
			Message: fmt.Sprintf("%s has claimed your item '%s'", d.ClaimerName, d.ItemTitle),
			Link:    "/lost-found/" + ev.AggregateID,
		},
	}}
}

func claimDecided(ev *event.Event, d *event.ClaimDecisionData) []Intent {
	title := "✅ Claim approved: " + d.ItemTitle
	message := fmt.Sprintf("Your claim for '%s' has been approved", d.ItemTitle)
	if ev.EventType == event.TypeClaimRejected {
		title = "❌ Claim rejected: " + d.ItemTitle
		message = fmt.Sprintf("Your claim for '%s' has been rejected", d.ItemTitle)
	}
	if d.AdminNotes != "" {
		message += ": " + d.AdminNotes
	}
	return []Intent{{
		Audience: Single(d.ClaimerID),
		Content: Content{
			Type:    CategoryLostFound,
			Title:   title,
			Message: message,
			Link:    "/lost-found/" + d.ItemID,
		},
	}}
}

func campusEventChanged(ev *event.Event, d *event.CampusEventData) []Intent {
	c := Content{
		Type:    CategoryEvent,
		Title:   "🎉 New Event: " + d.Title,
		Message: fmt.Sprintf("%s %s created a new event '%s'", roleBadge(d.ActorRole), d.ActorName, d.Title),
		Link:    "/events/" + ev.AggregateID,
	}
	if d.StartsAt != "" {
		c.Message += " on " + d.StartsAt
	}
	if ev.EventType == event.TypeEventUpdated {
		c.Title = "📢 Event Updated: " + d.Title
		c.Message = fmt.Sprintf("%s %s updated the event '%s'. Check out the latest details!",
			roleBadge(d.ActorRole), d.ActorName, d.Title)
	}
	return []Intent{{Audience: AllActive(), Content: c, Exclude: ev.ActorID}}
}

func eventRegistered(ev *event.Event, d *event.EventRegisteredData) []Intent {
	return []Intent{{
		Audience: Single(d.OrganizerID),
		Content: Content{
			Type:    CategoryEvent,
			Title:   "📝 New registration: " + d.EventTitle,
			Message: fmt.Sprintf("%s registered for '%s'", d.ParticipantName, d.EventTitle),
			Link:    "/events/" + ev.AggregateID,
		},
		Exclude: ev.ActorID,
	}}
}

func clubChanged(ev *event.Event, d *event.ClubData) []Intent {
	c := Content{
		Type:  CategoryClub,
		Title: "🎭 New Club: " + d.Name,
		Message: fmt.Sprintf("%s %s created a new club '%s'. Join now and be part of something amazing!",
			roleBadge(d.ActorRole), d.ActorName, d.Name),
		Link: "/clubs/" + ev.AggregateID,
	}
	if ev.EventType == event.TypeClubUpdated {
		c.Title = "📢 Club Updated: " + d.Name
		c.Message = fmt.Sprintf("%s %s updated the club '%s'. Check out the latest updates!",
			roleBadge(d.ActorRole), d.ActorName, d.Name)
	}
	return []Intent{{Audience: AllActive(), Content: c, Exclude: ev.ActorID}}
}

func clubJoined(ev *event.Event, d *event.ClubJoinedData) []Intent {
	c := Content{
		Type:    CategoryClub,
		Title:   "👋 New member: " + d.ClubName,
		Message: fmt.Sprintf("%s joined %s", d.MemberName, d.ClubName),
		Link:    "/clubs/" + ev.AggregateID,
	}
	intents := make([]Intent, 0, len(d.CoordinatorIDs))
	for _, id := range dedupe(d.CoordinatorIDs, ev.ActorID) {
		intents = append(intents, Intent{Audience: Single(id), Content: c})
	}
	return intents
}

func clubActivityPosted(ev *event.Event, d *event.ClubActivityData) []Intent {
	return []Intent{{
		Audience: Group(realtime.ClubGroup(ev.AggregateID), d.MemberIDs...),
		Content: Content{
			Type:    CategoryClub,
			Title:   fmt.Sprintf("📣 %s: %s", d.ClubName, d.Title),
			Message: fmt.Sprintf("New %s posted in %s: %s", d.ActivityType, d.ClubName, d.Title),
			Link:    "/clubs/" + ev.AggregateID,
		},
		Exclude: ev.ActorID,
	}}
}

// feedbackSubmitted は管理者と教員に保存し、管理者向けグループに配信する。
// 匿名の場合も投稿者IDは保持するが、本文には名前を出さない。
func feedbackSubmitted(ev *event.Event, d *event.FeedbackSubmittedData) []Intent {
	from := d.SubmitterName
	if d.Anonymous || from == "" {
		from = "Anonymous"
	}
	c := Content{
		Type:    CategoryFeedback,
		Title:   "💬 New feedback: " + d.Subject,
		Message: fmt.Sprintf("%s submitted %s feedback: %s", from, d.Category, d.Subject),
		Link:    "/feedback/" + ev.AggregateID,
	}
	return []Intent{
		{Audience: ForRole(RoleAdmin), Content: c, Exclude: d.SubmitterID, Channel: realtime.GroupAdmin},
		{Audience: ForRole(RoleFaculty), Content: c, Exclude: d.SubmitterID, Channel: realtime.GroupAdmin},
	}
}

func feedbackResponded(ev *event.Event, d *event.FeedbackRespondedData) []Intent {
	message := fmt.Sprintf("%s responded to your feedback '%s'", d.ResponderName, d.Subject)
	if d.Status != "" {
		message += fmt.Sprintf(" (status: %s)", d.Status)
	}
	return []Intent{{
		Audience: Single(d.SubmitterID),
		Content: Content{
			Type:    CategoryFeedback,
			Title:   "💬 Response to: " + d.Subject,
			Message: message,
			Link:    "/feedback/" + ev.AggregateID,
		},
	}}
}

func feedbackAssigned(ev *event.Event, d *event.FeedbackAssignedData) []Intent {
	return []Intent{{
		Audience: Single(d.AssigneeID),
		Content: Content{
			Type:    CategoryFeedback,
			Title:   "📋 Feedback assigned: " + d.Subject,
			Message: fmt.Sprintf("Feedback '%s' has been assigned to you", d.Subject),
			Link:    "/feedback/" + ev.AggregateID,
		},
	}}
}

// roleBadge は作成者ロールの表示ラベルを返す。
func roleBadge(role string) string {
	switch role {
	case RoleAdmin:
		return "🛡️ Admin"
	case RoleFaculty:
		return "👨‍🏫 Faculty"
	default:
		return "🎓 Student"
	}
}

func titleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
