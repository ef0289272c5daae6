package app

import (
	"github.com/wellonapharm/smart/internal/appconfig"
)

// The configuration definition lives in internal/appconfig so that packages
// imported by the router (e.g. internal/reconcile) can use it without an
// import cycle. The aliases below keep the app.Config surface unchanged.

// Target schemas for document writes.
const (
	TargetLocal       = appconfig.TargetLocal
	TargetRemoteProxy = appconfig.TargetRemoteProxy
)

// Config holds runtime configuration for the application.
type Config = appconfig.Config

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	return appconfig.LoadConfig()
}
