package permissions

type Tier int

// Tier ordering is total: owner > admin > moderator > member.
const (
	TierMember Tier = iota
	TierModerator
	TierAdmin
	TierOwner
)

func (t Tier) String() string {
	switch t {
	case TierOwner:
		return "owner"
	case TierAdmin:
		return "admin"
	case TierModerator:
		return "moderator"
	default:
		return "member"
	}
}

// Resolver maps identities to tiers from static owner/admin lists plus the
// platform-reported chat-admin flag. It holds no mutable state.
type Resolver struct {
	owners map[int64]struct{}
	admins map[int64]struct{}
}

func NewResolver(ownerIDs, adminIDs []int64) *Resolver {
	r := &Resolver{
		owners: make(map[int64]struct{}, len(ownerIDs)),
		admins: make(map[int64]struct{}, len(adminIDs)),
	}
	for _, id := range ownerIDs {
		r.owners[id] = struct{}{}
	}
	for _, id := range adminIDs {
		r.admins[id] = struct{}{}
	}
	return r
}

// EffectiveTier is the maximum of the configured tier and the live chat-admin
// status. Chat admins gain moderator in that chat only, never globally.
func (r *Resolver) EffectiveTier(userID int64, chatAdmin bool) Tier {
	tier := TierMember
	if chatAdmin {
		tier = TierModerator
	}
	if _, ok := r.admins[userID]; ok && tier < TierAdmin {
		tier = TierAdmin
	}
	if _, ok := r.owners[userID]; ok {
		tier = TierOwner
	}
	return tier
}

func (r *Resolver) Authorize(userID int64, chatAdmin bool, required Tier) bool {
	return r.EffectiveTier(userID, chatAdmin) >= required
}
