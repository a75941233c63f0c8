// Package version holds the build version string, overridable at link
// time with -ldflags "-X ...version.Version=v1.2.3".
package version

// Version is the current darwin release.
var Version = "dev"
