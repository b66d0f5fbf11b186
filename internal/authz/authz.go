// Package authz answers capability questions for the moderation core.
// It is a pure function of its inputs: callers pass the acting user's
// role and group memberships explicitly, never a global.
package authz

type Role string
type Action string

const (
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

// Actor is the acting user as seen by the engines.
type Actor struct {
	ID     string
	Name   string
	Role   Role
	Groups []string
}

// Gate holds the configured reviewer group name. It carries no other state.
type Gate struct {
	reviewerGroup string
}

func NewGate(reviewerGroup string) Gate {
	return Gate{reviewerGroup: reviewerGroup}
}

// IsReviewer reports whether the actor belongs to the reviewer group.
func (g Gate) IsReviewer(actor Actor) bool {
	for _, group := range actor.Groups {
		if group == g.reviewerGroup {
			return true
		}
	}
	return false
}

// CanComment reports whether the actor may annotate a target inside a
// project: project members always can, anyone can when the project has
// public comments enabled.
func (g Gate) CanComment(actor Actor, publicComments, isProjectMember bool) bool {
	if actor.ID == "" {
		return false
	}
	return publicComments || isProjectMember
}

// CanEditComment reports whether the actor may edit, delete, or undelete
// a comment. Only the comment's author may.
func (g Gate) CanEditComment(actor Actor, authorID string) bool {
	return actor.ID != "" && actor.ID == authorID
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return action == ActionRead || action == ActionComment || action == ActionModerate
	case RoleMember:
		return action == ActionRead || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
