// Package misc keeps build time information about the program.
package misc

// Values are overwritten at link time with -ldflags "-X scbe/misc.version=...".
var (
	appName = "scbe"
	version = "dev"
	gitHash = "unknown"
)

func GetAppName() string {
	return appName
}

func GetVersion() string {
	return version
}

func GetGitHash() string {
	return gitHash
}
