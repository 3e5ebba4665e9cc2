package version

// Current defines the application version.
// It defaults to "dev" and is set at build time with -ldflags.
var Current = "dev"

// Commit is the source revision, injected via -ldflags when available.
var Commit = "unknown"

const AppName = "grandiso"

// String renders the version line printed by the CLI.
func String() string {
	return AppName + " " + Current + " (" + Commit + ")"
}
