package dispatch

import (
	"context"

	"github.com/contentops/stt-pipeline/pkg/logger"
)

// DirectTransport invokes the handler in the current process, synchronously,
// and propagates its result unchanged.
type DirectTransport struct {
	handler Handler
	logger  *logger.Logger
}

// NewDirectTransport creates the in-process transport.
func NewDirectTransport(handler Handler, log *logger.Logger) *DirectTransport {
	return &DirectTransport{
		handler: handler,
		logger:  log.Named("dispatch-direct"),
	}
}

// Dispatch calls the handler directly.
func (t *DirectTransport) Dispatch(ctx context.Context, env Envelope) Result {
	t.logger.Debug("Invoking handler directly",
		logger.String("item_id", env.ItemID),
		logger.String("campaign_id", env.CampaignID))
	return t.handler.Invoke(ctx, env)
}
