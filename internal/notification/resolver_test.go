package notification

import (
	"context"
	"errors"
	"slices"
	"testing"
)

// fakeDirectory はテスト用のDirectory実装。
type fakeDirectory struct {
	active []string
	byRole map[string][]string
	err    error
}

func (f *fakeDirectory) ListActive(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.active, nil
}

func (f *fakeDirectory) ListActiveByRole(_ context.Context, role string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byRole[role], nil
}

func TestResolverResolve(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{
		active: []string{"U", "A", "B", "A"},
		byRole: map[string][]string{RoleFaculty: {"B"}},
	}

	tests := []struct {
		name     string
		audience Audience
		exclude  string
		want     []string
	}{
		{name: "ALL_ACTIVEは重複を除いた有効ユーザー", audience: AllActive(), want: []string{"U", "A", "B"}},
		{name: "除外ユーザーは結果から取り除かれる", audience: AllActive(), exclude: "U", want: []string{"A", "B"}},
		{name: "存在しないユーザーの除外は何もしない", audience: AllActive(), exclude: "Z", want: []string{"U", "A", "B"}},
		{name: "ROLEは指定ロールの有効ユーザー", audience: ForRole(RoleFaculty), want: []string{"B"}},
		{name: "SINGLEは有効判定を行わない", audience: Single("C"), want: []string{"C"}},
		{name: "SINGLEで本人を除外すると空", audience: Single("C"), exclude: "C", want: []string{}},
		{name: "GROUPは指定されたメンバー", audience: Group("club_1", "A", "A", "", "C"), want: []string{"A", "C"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NewResolver(dir).Resolve(t.Context(), tt.audience, tt.exclude)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Resolve(): got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("ディレクトリに問い合わせできない場合は空集合を返すこと", func(t *testing.T) {
		t.Parallel()
		r := NewResolver(&fakeDirectory{err: errors.New("connection refused")})

		if got := r.Resolve(t.Context(), AllActive(), ""); len(got) != 0 {
			t.Errorf("ALL_ACTIVE: got %v, want empty", got)
		}
		if got := r.Resolve(t.Context(), ForRole(RoleAdmin), ""); len(got) != 0 {
			t.Errorf("ROLE: got %v, want empty", got)
		}
	})
}

func TestAudienceValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		audience Audience
		wantErr  bool
	}{
		{name: "ALL_ACTIVE", audience: AllActive()},
		{name: "定義済みロール", audience: ForRole(RoleStudent)},
		{name: "未定義ロール", audience: ForRole("guest"), wantErr: true},
		{name: "user_idのないSINGLE", audience: Single(""), wantErr: true},
		{name: "グループ名のないGROUP", audience: Group(""), wantErr: true},
		{name: "未知の種類", audience: Audience{Kind: "EVERYONE"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.audience.Validate()
			if tt.wantErr && !errors.Is(err, ErrUnknownAudience) {
				t.Errorf("err = %v, want ErrUnknownAudience", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("予期しないエラー: %v", err)
			}
		})
	}
}
