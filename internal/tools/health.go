package tools

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alucardeht/sqlgate-mcp/pkg/protocol"
)

const StatusHealthy = "healthy"

// Health is the static liveness status served next to the tool endpoint.
func Health(clock clockwork.Clock) protocol.HealthResponse {
	return protocol.HealthResponse{
		Status:    StatusHealthy,
		Timestamp: clock.Now().UTC().Truncate(time.Millisecond),
	}
}
