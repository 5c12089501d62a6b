package xembed

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver is an Adapter that emits protocol events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("identity", e.Identity),
		xlog.Str("event_name", e.EventName),
		xlog.Str("event_id", e.EventID),
	)
	switch e.Type {
	case Error, SendTimeout:
		ev.Warn().Err(e.Err).Msg("xembed event")
	case Changed:
		if e.Change == nil {
			return
		}
		ev = ev.With(xlog.Str("change", string(e.Change.EventName)))
		switch e.Change.EventLevel {
		case LevelError:
			ev.Error().Msg(e.Change.Message)
		case LevelWarning:
			ev.Warn().Msg(e.Change.Message)
		default:
			ev.Debug().Msg(e.Change.Message)
		}
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xembed event")
	}
}
