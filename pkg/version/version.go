// Package version reports the build version.
package version

// version is overridden at build time:
//
//	go build -ldflags "-X storefront/pkg/version.version=1.2.3"
var version = "dev"

// Version returns the version string baked into the binary.
func Version() string {
	return version
}
