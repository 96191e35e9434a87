package app

// Version information set by build using -ldflags
var (
	// version is the current version of the gateway
	version = "dev"
	// buildDate is the date when the binary was built
	buildDate = "unknown"
)
