package tools

import "fmt"

// PermissionLevel gates how the orchestration graph treats a tool call.
type PermissionLevel string

const (
	// PermissionPublic executes immediately.
	PermissionPublic PermissionLevel = "public"

	// PermissionNotify executes immediately and additionally surfaces
	// a user-visible notice on the event stream.
	PermissionNotify PermissionLevel = "notify"

	// PermissionConfirm suspends the run until the user approves or
	// denies the call.
	PermissionConfirm PermissionLevel = "confirm"

	// PermissionRestricted fails closed: the call is denied unless an
	// explicit grant exists for this run.
	PermissionRestricted PermissionLevel = "restricted"
)

// Valid reports whether p is one of the known levels.
func (p PermissionLevel) Valid() bool {
	switch p {
	case PermissionPublic, PermissionNotify, PermissionConfirm, PermissionRestricted:
		return true
	}
	return false
}

// RequiresApproval reports whether the graph must obtain a user
// decision before executing.
func (p PermissionLevel) RequiresApproval() bool {
	return p == PermissionConfirm
}

// ParsePermission converts a config string to a PermissionLevel.
func ParsePermission(s string) (PermissionLevel, error) {
	p := PermissionLevel(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown permission level %q", s)
	}
	return p, nil
}
