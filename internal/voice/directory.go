package voice

import (
	"github.com/ent0n29/voicecoach/internal/observability"
	"github.com/ent0n29/voicecoach/internal/protocol"
	"github.com/ent0n29/voicecoach/internal/session"
	"github.com/ent0n29/voicecoach/internal/tts"
)

// Directory exposes registry sessions to the synthesis multiplexer.
type Directory struct {
	registry *session.Registry
	metrics  *observability.Metrics
}

func NewDirectory(registry *session.Registry, metrics *observability.Metrics) *Directory {
	return &Directory{registry: registry, metrics: metrics}
}

func (d *Directory) Lookup(ownerID string) (tts.Owner, bool) {
	s, err := d.registry.Get(ownerID)
	if err != nil {
		return nil, false
	}
	return &sessionOwner{Session: s, metrics: d.metrics}, true
}

// sessionOwner routes synthesis output into a session's outbound queue.
type sessionOwner struct {
	*session.Session
	metrics *observability.Metrics
}

// Deliver never blocks: the caller is the shared synthesis read loop.
func (o *sessionOwner) Deliver(msg any) {
	name := protocol.EventName(msg)
	select {
	case o.Outbound() <- msg:
		o.observe(name, "delivered")
	default:
		o.observe(name, "dropped")
	}
}

func (o *sessionOwner) observe(name, result string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveOutboundMessage(name, result)
	if result == "dropped" {
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}
