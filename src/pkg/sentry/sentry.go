// Package sentry wraps the Sentry SDK for crash reporting. Player identity
// coming from game telemetry is scrubbed before anything leaves the process.
package sentry

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	initialized bool
	initMu      sync.RWMutex
)

// Fields that may carry player identity and must never reach Sentry.
var scrubbedKeys = []string{"player_name", "player_id", "video_path"}

// Init configures the Sentry SDK. An empty dsn disables reporting entirely;
// every other function in this package is then a no-op.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}
	initMu.Lock()
	initialized = true
	initMu.Unlock()
	return nil
}

func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// Flush drains pending events. Call before process exit.
func Flush(timeout time.Duration) {
	if !IsInitialized() {
		return
	}
	sentry.Flush(timeout)
}

// Recover reports a goroutine panic and swallows it so the goroutine exits
// cleanly. recover() must run unconditionally, before the initialized check.
func Recover() {
	err := recover()
	if err == nil {
		return
	}
	if IsInitialized() {
		if hub := sentry.CurrentHub(); hub != nil {
			hub.Recover(err)
		}
	}
}

// RecoverWithContext is Recover with hub lookup from the context.
func RecoverWithContext(ctx context.Context) {
	err := recover()
	if err == nil {
		return
	}
	if IsInitialized() {
		hub := sentry.GetHubFromContext(ctx)
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		if hub != nil {
			hub.RecoverWithContext(ctx, err)
		}
	}
}

func CaptureException(err error) {
	if !IsInitialized() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// Go starts a goroutine with panic recovery attached.
func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}

// GoWithContext starts a goroutine with panic recovery attached, passing ctx
// through to f.
func GoWithContext(ctx context.Context, f func(context.Context)) {
	go func() {
		defer RecoverWithContext(ctx)
		f(ctx)
	}()
}

func scrubEvent(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	event.Extra = scrubMap(event.Extra)
	for key, ctxData := range event.Contexts {
		event.Contexts[key] = scrubMap(ctxData)
	}
	for _, key := range scrubbedKeys {
		if _, ok := event.Tags[key]; ok {
			event.Tags[key] = "[REDACTED]"
		}
	}
	return event
}

func scrubMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	for _, key := range scrubbedKeys {
		if _, ok := m[key]; ok {
			m[key] = "[REDACTED]"
		}
	}
	return m
}
