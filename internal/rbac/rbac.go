package rbac

type Role string
type Action string

const (
	RoleObserver     Role = "observer"
	RoleOwner        Role = "owner"
	RoleCommissioner Role = "commissioner"
)

const (
	ActionRead       Action = "read"
	ActionVote       Action = "vote"
	ActionAmend      Action = "amend"
	ActionAdminister Action = "administer"
)

// Can reports whether a role may perform an action. Owners vote and submit
// amendments; only the commissioner administers meetings, versions, and
// voting sessions.
func Can(role Role, action Action) bool {
	switch role {
	case RoleCommissioner:
		return true
	case RoleOwner:
		return action == ActionRead || action == ActionVote || action == ActionAmend
	case RoleObserver:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleObserver, RoleOwner, RoleCommissioner:
		return Role(role)
	default:
		return RoleObserver
	}
}
