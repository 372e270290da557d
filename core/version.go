package core

import "strings"

// AppName is shown in the about box, page title and service registration.
const AppName = "FastSD CPU"

// Set at build time with -ldflags "-X fastsd/core.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetVersionInfo returns the version with build metadata.
func GetVersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}

// AboutLines is the content of the about box.
func AboutLines() []string {
	return []string{
		AppName + " " + Version,
		"Faster stable diffusion on CPU",
		"Based on Latent Consistency Models",
	}
}

// About returns AboutLines joined by newlines.
func About() string {
	return strings.Join(AboutLines(), "\n")
}
