package app

import (
	"github.com/stellar-swipe/oracle-layer/internal/app/events"
	"github.com/stellar-swipe/oracle-layer/internal/app/metrics"
)

// instrumentBus mirrors domain events into the Prometheus collectors.
func instrumentBus(bus *events.Bus) {
	bus.Subscribe(func(evt events.Event) {
		switch evt.Type {
		case events.TypeSubmissionRecorded:
			metrics.RecordSubmission("accepted")
		case events.TypeConsensusReached:
			if price, ok := evt.Fields["price"].(int64); ok {
				metrics.RecordRound(price)
			}
		case events.TypeSourceSlashed:
			reason, _ := evt.Fields["reason"].(string)
			metrics.RecordSlash(reason)
		case events.TypeSourceSuspended:
			metrics.RecordSuspension()
		}
	})
}
