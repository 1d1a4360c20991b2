package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestBookingMetricsObserve(t *testing.T) {
	m := NewBookingMetrics(prometheus.NewRegistry())
	m.ObserveBooking("booked", 0.02)
	m.ObserveBooking("conflict", 0.01)
	m.ObserveSlotConflict()
	m.ObserveRefund("requested")
	m.ObserveSlotMutation("block", 8)
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking("booked", 0.1)
	m.ObserveSlotConflict()
	m.ObserveRefund("duplicate")
	m.ObserveSlotMutation("generate", 32)
}
