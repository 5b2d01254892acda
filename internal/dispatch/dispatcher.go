package dispatch

import (
	"fmt"
	"time"

	"github.com/contentops/stt-pipeline/internal/config"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// New selects a transport from configuration. The selection is a pure
// configuration read: the same handler logic is reachable from all three
// deployment topologies without the orchestrator branching on topology.
// starter may be nil unless the configured mode is "step".
func New(cfg config.DispatchConfig, handler Handler, starter ExecutionStarter, log *logger.Logger) (Dispatcher, error) {
	switch cfg.Mode {
	case config.DispatchModeDirect:
		return NewDirectTransport(handler, log), nil
	case config.DispatchModeHTTP:
		return NewHTTPTransport(cfg.HTTPBaseURL, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second, log), nil
	case config.DispatchModeStep:
		return NewStepTransport(starter, cfg.StateMachineARN, log), nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode: %s", cfg.Mode)
	}
}
