package instance

import (
	"context"
	"sync"

	"github.com/bluele/gcache"

	"github.com/rematch-coach/rematch-coach/src/interfaces"
)

// Instance is the explicit process context object: every long-lived component
// is constructed once, registered here, and reached through the context value
// instead of package-level singletons.
type Instance struct {
	WaitGroup sync.WaitGroup

	// Cache holds volatile cross-component state: the buffered player info
	// and the last good score snapshot from telemetry.
	Cache gcache.Cache

	EventDispatcher interfaces.Module
	CaptureManager  interfaces.Module
	SessionTracker  interfaces.Module
	Orchestrator    interfaces.Module
	Server          interfaces.Module

	// MatchStore is set by the matchstore package and type-asserted by its
	// consumers, keeping this package free of store imports.
	MatchStore interface{}
}

type instanceKey string

// Key is the context key the Instance travels under.
const Key = instanceKey("rematch-coach-instance")

func GetInstance(ctx context.Context) *Instance {
	if inst, ok := ctx.Value(Key).(*Instance); ok {
		return inst
	}
	return nil
}
