package version

// Build metadata, overridden at link time via -ldflags "-X alertcpl/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return Version + " (" + Commit + ", built " + BuildDate + ")"
}
