package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
)

// ErrUnknownAudience は宛先指定が解釈できない場合のエラー。
var ErrUnknownAudience = errors.New("宛先の指定が不正です")

// AudienceKind は宛先指定の種類。
type AudienceKind string

const (
	// AudienceAllActive は有効な全ユーザー。
	AudienceAllActive AudienceKind = "ALL_ACTIVE"
	// AudienceRole は指定ロールの有効ユーザー。
	AudienceRole AudienceKind = "ROLE"
	// AudienceSingle は特定の1ユーザー。有効判定を行わない。
	AudienceSingle AudienceKind = "SINGLE"
	// AudienceGroup は名前付きグループ。呼び出し側が保持するメンバーに保存する。
	AudienceGroup AudienceKind = "GROUP"
)

// ユーザーのロール。
const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

// Audience は通知の宛先指定。
type Audience struct {
	// Kind は宛先指定の種類。
	Kind AudienceKind `json:"kind"`
	// Role はAudienceRoleの対象ロール。
	Role string `json:"role,omitempty"`
	// UserID はAudienceSingleの対象ユーザー。
	UserID string `json:"user_id,omitempty"`
	// Group はAudienceGroupのグループ名。
	Group string `json:"group,omitempty"`
	// Members はAudienceGroupで通知を保存する宛先。
	Members []string `json:"recipients,omitempty"`
}

// AllActive は有効な全ユーザーを宛先とする。
func AllActive() Audience { return Audience{Kind: AudienceAllActive} }

// ForRole は指定ロールの有効ユーザーを宛先とする。
func ForRole(role string) Audience { return Audience{Kind: AudienceRole, Role: role} }

// Single は特定の1ユーザーを宛先とする。
func Single(userID string) Audience { return Audience{Kind: AudienceSingle, UserID: userID} }

// Group は名前付きグループを宛先とし、membersに通知を保存する。
func Group(name string, members ...string) Audience {
	return Audience{Kind: AudienceGroup, Group: name, Members: members}
}

// Validate は宛先指定を検証する。
func (a Audience) Validate() error {
	switch a.Kind {
	case AudienceAllActive:
		return nil
	case AudienceRole:
		if !validRole(a.Role) {
			return fmt.Errorf("%w: ロール %q は定義されていません", ErrUnknownAudience, a.Role)
		}
		return nil
	case AudienceSingle:
		if a.UserID == "" {
			return fmt.Errorf("%w: SINGLEにはuser_idが必要です", ErrUnknownAudience)
		}
		return nil
	case AudienceGroup:
		if a.Group == "" {
			return fmt.Errorf("%w: GROUPにはgroupが必要です", ErrUnknownAudience)
		}
		return nil
	default:
		return fmt.Errorf("%w: 種類 %q", ErrUnknownAudience, a.Kind)
	}
}

func validRole(role string) bool {
	return role == RoleStudent || role == RoleFaculty || role == RoleAdmin
}

// Resolver は宛先指定を具体的なユーザーIDの集合に展開する。
type Resolver struct {
	directory Directory
}

// NewResolver は新しいResolverを生成する。
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve は重複のない宛先ユーザーIDを返す。excludeが含まれていれば取り除く。
// ディレクトリに問い合わせできない場合はログを残して空集合を返す。
func (r *Resolver) Resolve(ctx context.Context, a Audience, exclude string) []string {
	var ids []string
	switch a.Kind {
	case AudienceAllActive:
		found, err := r.directory.ListActive(ctx)
		if err != nil {
			log.Printf("[Resolver] 有効ユーザーの取得に失敗したため宛先なしとして扱います: %v", err)
			return nil
		}
		ids = found
	case AudienceRole:
		found, err := r.directory.ListActiveByRole(ctx, a.Role)
		if err != nil {
			log.Printf("[Resolver] ロール %s のユーザー取得に失敗したため宛先なしとして扱います: %v", a.Role, err)
			return nil
		}
		ids = found
	case AudienceSingle:
		ids = []string{a.UserID}
	case AudienceGroup:
		ids = a.Members
	default:
		log.Printf("[Resolver] 未知の宛先種類です: %q", a.Kind)
		return nil
	}
	return dedupe(ids, exclude)
}

// dedupe は空文字と重複とexcludeを取り除く。順序は最初の出現順を保つ。
func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return slices.Clip(out)
}
