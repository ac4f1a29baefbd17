package simulation

import (
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
)

// stopEvent is the outcome of driving an armed stop machine through one
// day's close.
type stopEvent int

const (
	stopHeld      stopEvent = iota // armed (or inactive), nothing happened
	stopCancelled                  // limit mode: the reference was breached
	stopFired                      // trigger condition met, execution attempted
)

// buyStop is the entry-side trailing machine. It arms when price drops
// activationPercent below the recent peak, tracks the lowest close since
// arming, and fires when price rebounds reboundPercent off that trough.
// In limit mode a close back above the peak reference cancels the order;
// market mode has no cancel transition.
type buyStop struct {
	armed            bool
	peakReference    float64
	troughSinceArmed float64
	activation       float64
	rebound          float64
}

// shouldArm reports whether the activation condition holds at price given
// the running recent peak.
func (s *buyStop) shouldArm(price, recentPeak, activation float64) bool {
	return !s.armed && price <= recentPeak*(1-activation)
}

// arm captures the reference extreme and the parameters in force, so a
// later parameter change cannot retro-affect an open order.
func (s *buyStop) arm(recentPeak, price, activation, rebound float64) {
	s.armed = true
	s.peakReference = recentPeak
	s.troughSinceArmed = price
	s.activation = activation
	s.rebound = rebound
}

// step drives the machine for one day. The trough updates first, then
// cancellation is checked before the fire condition: a reference breach
// always wins. The machine resets on cancel and on fire; whether the fired
// execution passes its gates is not the machine's concern.
func (s *buyStop) step(price float64, orderType domain.OrderType) stopEvent {
	if !s.armed {
		return stopHeld
	}
	if price < s.troughSinceArmed {
		s.troughSinceArmed = price
	}
	if orderType == domain.OrderTypeLimit && price > s.peakReference {
		s.reset()
		return stopCancelled
	}
	if price >= s.troughSinceArmed*(1+s.rebound) {
		s.reset()
		return stopFired
	}
	return stopHeld
}

func (s *buyStop) reset() {
	*s = buyStop{}
}

// sellStop is the exit-side mirror of buyStop: it arms when price rises
// activationPercent above the recent trough, tracks the highest close since
// arming, and fires when price pulls back pullbackPercent off that peak.
// In limit mode a close back below the bottom reference cancels it.
type sellStop struct {
	armed           bool
	bottomReference float64
	peakSinceArmed  float64
	activation      float64
	pullback        float64
}

func (s *sellStop) shouldArm(price, recentTrough, activation float64) bool {
	return !s.armed && price >= recentTrough*(1+activation)
}

func (s *sellStop) arm(recentTrough, price, activation, pullback float64) {
	s.armed = true
	s.bottomReference = recentTrough
	s.peakSinceArmed = price
	s.activation = activation
	s.pullback = pullback
}

func (s *sellStop) step(price float64, orderType domain.OrderType) stopEvent {
	if !s.armed {
		return stopHeld
	}
	if price > s.peakSinceArmed {
		s.peakSinceArmed = price
	}
	if orderType == domain.OrderTypeLimit && price < s.bottomReference {
		s.reset()
		return stopCancelled
	}
	if price <= s.peakSinceArmed*(1-s.pullback) {
		s.reset()
		return stopFired
	}
	return stopHeld
}

func (s *sellStop) reset() {
	*s = sellStop{}
}
