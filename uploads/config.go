package uploads

// LimitMode selects which configured bandwidth limit applies.
type LimitMode string

const (
	LimitOff         LimitMode = "off"
	LimitPrimary     LimitMode = "primary"
	LimitAlternative LimitMode = "alternative"
)

// Config holds the upload manager's knobs. The struct is shared with the
// embedding client and may be mutated between event-loop turns only.
type Config struct {
	// FIFOQueue serves queued uploads strictly in enqueue order instead of
	// round-robin over waiting users.
	FIFOQueue bool

	// UseUploadSlots caps concurrent uploads at UploadSlots. When unset,
	// new uploads are admitted until BandwidthLimit is saturated.
	UseUploadSlots bool
	UploadSlots    int

	// BandwidthLimit is the total upload bandwidth in KiB/s above which no
	// new uploads start. Zero means unlimited.
	BandwidthLimit int

	// QueueLimitMB caps the total size in MiB a single user may hold in our
	// queue. Zero disables the cap.
	QueueLimitMB int

	// FileLimit caps the number of files a single user may hold in our
	// queue. Zero disables the cap.
	FileLimit int

	// FriendsNoLimits exempts buddies from the queue caps.
	FriendsNoLimits bool

	// PreferFriends grants every buddy privileged queue precedence.
	PreferFriends bool

	// AutoClear removes finished uploads from the list immediately.
	AutoClear bool

	// UseCustomBan appends CustomBanMessage to the rejection sent to banned
	// users.
	UseCustomBan     bool
	CustomBanMessage string

	// SpeedLimitMode, SpeedLimit and SpeedLimitAlt configure the worker's
	// upload rate limiter in KiB/s. LimitPerTransfer applies the limit to
	// each transfer instead of the total.
	SpeedLimitMode   LimitMode
	SpeedLimit       int
	SpeedLimitAlt    int
	LimitPerTransfer bool
}
