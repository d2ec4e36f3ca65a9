// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/docsync/internal/adapters/config"
	_ "go.trai.ch/docsync/internal/adapters/logger"
	_ "go.trai.ch/docsync/internal/adapters/telemetry"
	// Register app and engine nodes.
	_ "go.trai.ch/docsync/internal/app"
	_ "go.trai.ch/docsync/internal/engine/scheduler"
)
