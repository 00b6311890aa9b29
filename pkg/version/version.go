// Package version provides version information for the price oracle.
package version

// Version is the release version. Overridden at build time with
// -ldflags "-X github.com/StrathCole/price-oracle/pkg/version.Version=...".
var Version = "0.1.0-dev"

// AgentString returns the agent string sent to remote nodes.
// Format: price-oracle/v{version}
func AgentString() string {
	return "price-oracle/v" + Version
}
