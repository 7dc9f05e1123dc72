// Package relay forwards sync progress and "entity kind changed" events to
// whatever presents them. Every method is fire-and-forget.
package relay

import (
	"log/slog"

	"github.com/marcus/navsync/internal/models"
)

// Nop drops every event.
type Nop struct{}

func (Nop) OnProgress(float64)              {}
func (Nop) OnEntityKindChanged(models.Kind) {}
func (Nop) OnLog(string)                    {}

// Logger writes events to a slog.Logger.
type Logger struct {
	L *slog.Logger
}

func (l Logger) logger() *slog.Logger {
	if l.L == nil {
		return slog.Default()
	}
	return l.L
}

func (l Logger) OnProgress(f float64) {
	l.logger().Info("sync progress", "fraction", f)
}

func (l Logger) OnEntityKindChanged(k models.Kind) {
	l.logger().Info("entity kind changed", "kind", k)
}

func (l Logger) OnLog(msg string) {
	l.logger().Info(msg)
}

// Funcs adapts plain functions. Nil fields are skipped.
type Funcs struct {
	Progress    func(float64)
	KindChanged func(models.Kind)
	Log         func(string)
}

func (f Funcs) OnProgress(v float64) {
	if f.Progress != nil {
		f.Progress(v)
	}
}

func (f Funcs) OnEntityKindChanged(k models.Kind) {
	if f.KindChanged != nil {
		f.KindChanged(k)
	}
}

func (f Funcs) OnLog(msg string) {
	if f.Log != nil {
		f.Log(msg)
	}
}

// Relay is the consumer-facing event surface.
type Relay interface {
	OnProgress(fraction float64)
	OnEntityKindChanged(kind models.Kind)
	OnLog(message string)
}

// Multi fans each event out to every relay in order.
type Multi []Relay

func (m Multi) OnProgress(f float64) {
	for _, r := range m {
		r.OnProgress(f)
	}
}

func (m Multi) OnEntityKindChanged(k models.Kind) {
	for _, r := range m {
		r.OnEntityKindChanged(k)
	}
}

func (m Multi) OnLog(msg string) {
	for _, r := range m {
		r.OnLog(msg)
	}
}
