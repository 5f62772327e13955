// entitlements - verified, cached and offline-capable entitlement checks
package main

import "github.com/lcrostarosa/entitlements/internal/cli"

// version is set at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

func main() {
	cli.SetVersion(version)
	cli.Execute()
}
