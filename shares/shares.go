// Package shares defines the read-only capabilities the transfer core
// borrows from the shares index: path translation, share membership and
// permission checks. The index implementation (scanning, persistence) lives
// outside the core.
package shares

// PermissionLevel classifies what a remote user may do with our shares.
type PermissionLevel string

const (
	PermissionBanned  PermissionLevel = "banned"
	PermissionTrusted PermissionLevel = "trusted"
	PermissionBuddy   PermissionLevel = "buddy"
	PermissionPublic  PermissionLevel = "public"
)

// Index is the lookup surface of the shares collaborator.
type Index interface {
	// VirtualToRealPath translates a peer-visible virtual path to a local
	// filesystem path. Returns the empty string for unknown paths.
	VirtualToRealPath(virtualPath string) string

	// FileIsShared reports whether the file is visible to the given user.
	FileIsShared(username, virtualPath, realPath string) bool

	// CheckUserPermission returns the user's permission level and, for
	// banned users, an optional human-readable reason.
	CheckUserPermission(username, ip string) (PermissionLevel, string)

	// Rescanning reports whether a shares rescan is in progress. Admission
	// decisions are deferred while it is.
	Rescanning() bool

	// Initialized reports whether the initial share scan has completed.
	// Outbound queue requests are held back until it has.
	Initialized() bool
}

// BuddyList is the user-list capability consulted for buddy-based precedence
// and admission exemptions.
type BuddyList interface {
	IsBuddy(username string) bool
	IsTrusted(username string) bool
	IsPrioritized(username string) bool
}
