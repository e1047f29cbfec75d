package permissions

import "testing"

func TestEffectiveTier(t *testing.T) {
	t.Parallel()

	r := NewResolver([]int64{1}, []int64{2})

	tests := []struct {
		name      string
		userID    int64
		chatAdmin bool
		want      Tier
	}{
		{"owner", 1, false, TierOwner},
		{"owner outranks chat admin", 1, true, TierOwner},
		{"admin", 2, false, TierAdmin},
		{"admin keeps tier as chat admin", 2, true, TierAdmin},
		{"plain member", 3, false, TierMember},
		{"chat admin is moderator", 3, true, TierModerator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := r.EffectiveTier(tt.userID, tt.chatAdmin); got != tt.want {
				t.Fatalf("EffectiveTier(%d, %v) = %s, want %s", tt.userID, tt.chatAdmin, got, tt.want)
			}
		})
	}
}

func TestAuthorizeMonotonicity(t *testing.T) {
	t.Parallel()

	r := NewResolver([]int64{1}, []int64{2})
	tiers := []Tier{TierMember, TierModerator, TierAdmin, TierOwner}

	for userID := int64(1); userID <= 4; userID++ {
		for _, chatAdmin := range []bool{false, true} {
			for i := 1; i < len(tiers); i++ {
				if r.Authorize(userID, chatAdmin, tiers[i]) && !r.Authorize(userID, chatAdmin, tiers[i-1]) {
					t.Fatalf("user %d authorized for %s but not %s", userID, tiers[i], tiers[i-1])
				}
			}
		}
	}
}

func TestChatAdminGrantsNothingGlobally(t *testing.T) {
	t.Parallel()

	r := NewResolver([]int64{1}, nil)
	if r.Authorize(5, true, TierAdmin) {
		t.Fatal("chat admin must not reach the admin tier")
	}
	if !r.Authorize(5, true, TierModerator) {
		t.Fatal("chat admin should hold the moderator tier in that chat")
	}
	if r.Authorize(5, false, TierModerator) {
		t.Fatal("the moderator tier must not leak outside the chat")
	}
}
