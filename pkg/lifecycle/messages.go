package lifecycle

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shopfront/offline-gateway/pkg/cache"
)

var controlMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gateway_control_messages_total",
	Help: "Control messages by type and result",
}, []string{"type", "result"})

// Control message types accepted by HandleMessage.
const (
	// MsgForceActivate purges outdated namespace versions immediately.
	MsgForceActivate = "force-activate"

	// MsgClearCaches deletes every registered namespace.
	MsgClearCaches = "clear-caches"

	// MsgCacheStats reports entry counts and byte sizes per namespace.
	MsgCacheStats = "cache-stats"
)

// Message is a typed control command sent to the gateway.
type Message struct {
	Type string `json:"type"`
}

// Reply is the response to a control message.
type Reply struct {
	OK     bool                   `json:"ok"`
	Error  string                 `json:"error,omitempty"`
	Stats  []cache.NamespaceStats `json:"stats,omitempty"`
	Purged []string               `json:"purged,omitempty"`
}

// HandleMessage executes one control message and builds its reply. Unknown
// types are rejected in the reply, never an error: the sender always gets an
// answer.
func (c *Coordinator) HandleMessage(ctx context.Context, msg Message) Reply {
	reply := c.handleMessage(ctx, msg)

	result := "ok"
	if !reply.OK {
		result = "error"
	}
	controlMessagesTotal.WithLabelValues(msg.Type, result).Inc()
	return reply
}

func (c *Coordinator) handleMessage(ctx context.Context, msg Message) Reply {
	switch msg.Type {
	case MsgForceActivate:
		purged, err := c.cfg.Cache.PurgeStale(ctx, c.cfg.Namespaces)
		if err != nil {
			return Reply{Error: err.Error()}
		}
		return Reply{OK: true, Purged: purged}

	case MsgClearCaches:
		if err := c.cfg.Cache.ClearAll(ctx); err != nil {
			return Reply{Error: err.Error()}
		}
		return Reply{OK: true}

	case MsgCacheStats:
		stats, err := c.cfg.Cache.Stats(ctx)
		if err != nil {
			return Reply{Error: err.Error()}
		}
		return Reply{OK: true, Stats: stats}

	default:
		c.logger.Warn().Str("type", msg.Type).Msg("Unknown control message")
		return Reply{Error: "unknown message type: " + msg.Type}
	}
}
