package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	notificationdb "github.com/nao1215/campushub/internal/notification/db"
	"github.com/nao1215/campushub/pkg/realtime"
)

// Intent は1回の通知依頼。ドメインイベントや内部APIから生成される。
type Intent struct {
	// Audience は宛先指定。
	Audience Audience `json:"audience"`
	// Content は通知内容。JSONではトップレベルに展開される。
	Content
	// Exclude は宛先から除外するユーザー（通常は操作者）。
	Exclude string `json:"exclude_user_id,omitempty"`
	// Channel はALL_ACTIVEとROLEで使う配信グループ。空の場合は全体グループ。
	Channel string `json:"channel,omitempty"`
}

// pushPayload はWebSocketで配信するペイロード。
// linkはリンクがない場合もnullとして必ず含める。
type pushPayload struct {
	Type    Category `json:"type"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Link    *string  `json:"link"`
}

// newPushPayload は通知内容から配信用JSONを生成する。
func newPushPayload(c Content) []byte {
	p := pushPayload{Type: c.Type, Title: c.Title, Message: c.Message}
	if c.Link != "" {
		link := c.Link
		p.Link = &link
	}
	b, err := json.Marshal(p)
	if err != nil {
		// 文字列フィールドのみのため発生しない
		panic(err)
	}
	return b
}

// Notifier は宛先解決、永続化、リアルタイム配信をまとめて行う。
// 永続化の失敗は呼び出し元に返し、配信の失敗はログに残すだけで返さない。
type Notifier struct {
	resolver *Resolver
	store    *Store
	registry *realtime.Registry
}

// NewNotifier は新しいNotifierを生成する。
func NewNotifier(resolver *Resolver, store *Store, registry *realtime.Registry) *Notifier {
	return &Notifier{resolver: resolver, store: store, registry: registry}
}

// Notify は依頼の宛先種類に応じて通知を保存・配信し、保存件数を返す。
func (n *Notifier) Notify(ctx context.Context, in Intent) (int, error) {
	if err := in.Audience.Validate(); err != nil {
		return 0, err
	}

	switch in.Audience.Kind {
	case AudienceSingle:
		if in.Audience.UserID == in.Exclude {
			return 0, nil
		}
		if _, err := n.NotifyUser(ctx, in.Audience.UserID, in.Content); err != nil {
			return 0, err
		}
		return 1, nil
	case AudienceGroup:
		return n.NotifyGroup(ctx, in.Audience.Group, in.Content, dedupe(in.Audience.Members, in.Exclude)...)
	default:
		return n.notifyAudience(ctx, in.Audience, in.Content, in.Exclude, in.Channel)
	}
}

// NotifyAudience は宛先指定を展開して1人1件ずつ保存し、全体グループに1回配信する。
// 配信は保存できた宛先の接続に限られる。
func (n *Notifier) NotifyAudience(ctx context.Context, a Audience, content Content, exclude string) (int, error) {
	return n.notifyAudience(ctx, a, content, exclude, "")
}

func (n *Notifier) notifyAudience(ctx context.Context, a Audience, content Content, exclude, channel string) (int, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	content, err := content.normalize()
	if err != nil {
		return 0, err
	}
	if channel == "" {
		channel = realtime.GroupCampus
	}

	recipients := n.resolver.Resolve(ctx, a, exclude)
	if len(recipients) == 0 {
		log.Printf("[Notifier] 宛先がないため通知しません: audience=%s title=%q", a.Kind, content.Title)
		return 0, nil
	}

	created, err := n.store.CreateMany(ctx, recipients, content)
	if len(created) > 0 {
		allowed := make(map[string]struct{}, len(created))
		for _, rec := range created {
			allowed[rec.UserID] = struct{}{}
		}
		pushed := n.registry.SendFiltered(channel, newPushPayload(content), func(userID string) bool {
			_, ok := allowed[userID]
			return ok
		})
		log.Printf("[Notifier] 通知しました: audience=%s 保存=%d 配信=%d", a.Kind, len(created), pushed)
	}
	if err != nil {
		return len(created), fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return len(created), nil
}

// NotifyUser は1件保存してユーザー個別グループに配信する。
func (n *Notifier) NotifyUser(ctx context.Context, userID string, content Content) (notificationdb.Notification, error) {
	rec, err := n.store.CreateOne(ctx, userID, content)
	if err != nil {
		return rec, err
	}
	pushed := n.registry.SendTo(userID, newPushPayload(contentOf(rec)))
	log.Printf("[Notifier] ユーザーに通知しました: user=%s 配信=%d", userID, pushed)
	return rec, nil
}

// NotifyGroup はrecipientsにだけ保存し、名前付きグループと各宛先の個別グループに配信する。
// グループと個別グループの両方に属する接続にも1回だけ届く。
func (n *Notifier) NotifyGroup(ctx context.Context, group string, content Content, recipients ...string) (int, error) {
	if group == "" {
		return 0, fmt.Errorf("%w: グループ名が空です", ErrUnknownAudience)
	}
	content, err := content.normalize()
	if err != nil {
		return 0, err
	}

	created, err := n.store.CreateMany(ctx, dedupe(recipients, ""), content)
	groups := make([]string, 0, len(created)+1)
	groups = append(groups, group)
	for _, rec := range created {
		groups = append(groups, realtime.UserGroup(rec.UserID))
	}
	pushed := n.registry.SendMany(groups, newPushPayload(content))
	log.Printf("[Notifier] グループに通知しました: group=%s 保存=%d 配信=%d", group, len(created), pushed)

	if err != nil {
		return len(created), fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return len(created), nil
}

// contentOf は保存済みレコードから通知内容を復元する。
func contentOf(rec notificationdb.Notification) Content {
	return Content{
		Type:    Category(rec.Type),
		Title:   rec.Title,
		Message: rec.Message,
		Link:    rec.Link.String,
	}
}
