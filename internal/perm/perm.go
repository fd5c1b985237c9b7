// Package perm evaluates team-role capabilities. All predicates are pure:
// the caller looks up the actor's membership and passes it in, a nil
// membership means the actor does not belong to the team.
package perm

type Role string

const (
	RoleAdmin         Role = "admin"
	RoleDecisionMaker Role = "decision_maker"
	RoleReviewer      Role = "reviewer"
	RoleObserver      Role = "observer"
)

// Actor identifies the requesting user. A zero Actor is unauthenticated
// and is denied everywhere.
type Actor struct {
	ID      string
	IsStaff bool
}

func (a Actor) Authenticated() bool {
	return a.ID != ""
}

// Membership is the actor's row in the team, if any.
type Membership struct {
	UserID string
	TeamID string
	Role   Role
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleDecisionMaker, RoleReviewer, RoleObserver:
		return Role(role)
	default:
		return RoleObserver
	}
}

func roleIn(member *Membership, roles ...Role) bool {
	if member == nil {
		return false
	}
	for _, role := range roles {
		if member.Role == role {
			return true
		}
	}
	return false
}

func CanViewTeam(actor Actor, member *Membership) bool {
	if !actor.Authenticated() {
		return false
	}
	if actor.IsStaff {
		return true
	}
	return member != nil
}

// CanCreateDecision is deliberately broad: any membership except observer
// suffices, and the legacy "member"/"owner" role names remain accepted.
func CanCreateDecision(actor Actor, member *Membership) bool {
	if !actor.Authenticated() {
		return false
	}
	if actor.IsStaff {
		return true
	}
	return roleIn(member, RoleAdmin, RoleDecisionMaker, RoleReviewer, Role("member"), Role("owner"))
}

func CanViewDecision(actor Actor, member *Membership) bool {
	return CanViewTeam(actor, member)
}

// CanEditDecision allows staff, the creator while the decision is still in
// draft or review, and the decision-making roles of the owning team.
func CanEditDecision(actor Actor, member *Membership, creatorID, status string) bool {
	if !CanViewDecision(actor, member) {
		return false
	}
	if actor.IsStaff {
		return true
	}
	if creatorID != "" && creatorID == actor.ID && (status == "draft" || status == "review") {
		return true
	}
	return roleIn(member, RoleAdmin, RoleDecisionMaker, Role("owner"))
}

func CanReviewDecision(actor Actor, member *Membership) bool {
	if !CanViewDecision(actor, member) {
		return false
	}
	if actor.IsStaff {
		return true
	}
	return roleIn(member, RoleAdmin, RoleDecisionMaker, RoleReviewer, Role("owner"))
}
