package domain

// Identity is the caller identity passed explicitly into every core operation.
// Privilege is an independently-authenticated flag and is never inferred from
// the absence of a user id: an empty UserID with Privileged=false always
// resolves to a denial, it is not a bypass.
type Identity struct {
	UserID     string // empty means no authenticated end user
	Privileged bool   // operator/service role acting across all conversations
}

// Anonymous reports whether the identity carries neither a user nor privilege.
func (i Identity) Anonymous() bool { return i.UserID == "" && !i.Privileged }

// Action is the access type evaluated by the policy gate.
type Action string

// Gate actions.
const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)
