package downloads

// LimitMode selects which configured bandwidth limit applies.
type LimitMode string

const (
	LimitOff         LimitMode = "off"
	LimitPrimary     LimitMode = "primary"
	LimitAlternative LimitMode = "alternative"
)

// RemoteUploadPolicy controls who may push files to us without a matching
// queued download.
type RemoteUploadPolicy int

const (
	RemoteUploadsNever RemoteUploadPolicy = iota
	RemoteUploadsEveryone
	RemoteUploadsBuddies
	RemoteUploadsTrusted
)

// Filter is one configured download filter. Escaped patterns are literal
// names where "*" matches anything; unescaped patterns are raw regular
// expressions.
type Filter struct {
	Pattern string
	Escaped bool
}

// Config holds the download manager's knobs. The struct is shared with the
// embedding client and may be mutated between event-loop turns only.
type Config struct {
	// DownloadFolder is the destination for finished downloads.
	DownloadFolder string

	// IncompleteFolder stores in-flight download data.
	IncompleteFolder string

	// ReceiveFolder is where remotely initiated uploads to us are placed,
	// under a per-user subfolder.
	ReceiveFolder string

	// UsernameSubfolders creates a per-user subfolder under DownloadFolder.
	UsernameSubfolders bool

	EnableFilters bool
	Filters       []Filter

	// AutoClear removes finished downloads from the list immediately.
	AutoClear bool

	// RemoteUploadPolicy admits transfers we never asked for.
	RemoteUploadPolicy RemoteUploadPolicy

	// SpeedLimitMode, SpeedLimit and SpeedLimitAlt configure the worker's
	// download rate limiter in KiB/s.
	SpeedLimitMode LimitMode
	SpeedLimit     int
	SpeedLimitAlt  int
}
