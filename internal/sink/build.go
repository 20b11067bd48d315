package sink

import (
	"fmt"
	"log/slog"

	"github.com/hazyhaar/domwait/internal/config"
)

// FromConfig opens every configured sink behind one Router. On error the
// sinks already opened are closed.
func FromConfig(cfgs []config.SinkConfig, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var sinks []Sink
	for _, c := range cfgs {
		var s Sink
		switch c.Type {
		case "stdout":
			s = NewStdout(nil)
		case "webhook":
			s = NewWebhook(c.URL, WithWebhookLogger(logger))
		case "sqlite":
			db, err := OpenSQLite(c.Path)
			if err != nil {
				_ = NewRouter(logger, sinks...).Close()
				return nil, err
			}
			s = db
		default:
			_ = NewRouter(logger, sinks...).Close()
			return nil, fmt.Errorf("sink: unknown type %q", c.Type)
		}
		sinks = append(sinks, s)
	}
	return NewRouter(logger, sinks...), nil
}
