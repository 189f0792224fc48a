package base

import (
	"fmt"
	"math"

	"github.com/banshee-data/body.control/internal/monitoring"
	"github.com/banshee-data/body.control/internal/profile"
)

func finite(vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value %v: %w", v, monitoring.ErrInvalidArgument)
		}
	}
	return nil
}

// MoveAbsolute bids for trav to reach goal inches at rate.
func (c *Controller) MoveAbsolute(goal, rate float64, bid int) error {
	if err := finite(goal, rate); err != nil {
		return fmt.Errorf("move: %w", err)
	}
	return c.moveLock.Bid(profile.Command{Mode: profile.ModeGoal, Goal: goal, Rate: rate}, bid)
}

// TurnAbsolute bids for windup to reach goal degrees at rate.
func (c *Controller) TurnAbsolute(goal, rate float64, bid int) error {
	if err := finite(goal, rate); err != nil {
		return fmt.Errorf("turn: %w", err)
	}
	return c.turnLock.Bid(profile.Command{Mode: profile.ModeGoal, Goal: goal, Rate: rate}, bid)
}

// DriveAbsolute bids on both axes at once. Each axis is arbitrated on its
// own, so one may win while the other is pre-empted.
func (c *Controller) DriveAbsolute(trav, windup, moveRate, turnRate float64, bid int) error {
	if err := c.MoveAbsolute(trav, moveRate, bid); err != nil {
		if terr := c.TurnAbsolute(windup, turnRate, bid); terr != nil {
			return fmt.Errorf("%w; %w", err, terr)
		}
		return err
	}
	return c.TurnAbsolute(windup, turnRate, bid)
}

// SetMoveVel bids a signed translation speed in inches per second. Zero is
// a soft stop.
func (c *Controller) SetMoveVel(ips float64, bid int) error {
	if err := finite(ips); err != nil {
		return fmt.Errorf("move: %w", err)
	}
	if ips == 0 {
		return c.MoveStop(bid)
	}
	return c.moveLock.Bid(profile.Command{Mode: profile.ModeVelocity, Goal: ips}, bid)
}

// SetTurnVel bids a signed rotation speed in degrees per second, positive
// to the left. Zero is a soft stop.
func (c *Controller) SetTurnVel(dps float64, bid int) error {
	if err := finite(dps); err != nil {
		return fmt.Errorf("turn: %w", err)
	}
	if dps == 0 {
		return c.TurnStop(bid)
	}
	return c.turnLock.Bid(profile.Command{Mode: profile.ModeVelocity, Goal: dps}, bid)
}

// MoveStop bids a soft stop of translation.
func (c *Controller) MoveStop(bid int) error {
	return c.moveLock.Bid(profile.Command{Mode: profile.ModeSoftStop}, bid)
}

// TurnStop bids a soft stop of rotation.
func (c *Controller) TurnStop(bid int) error {
	return c.turnLock.Bid(profile.Command{Mode: profile.ModeSoftStop}, bid)
}

// MoveFreeze bids to hold trav.
func (c *Controller) MoveFreeze(bid int) error {
	return c.moveLock.Bid(profile.Command{Mode: profile.ModeFreeze}, bid)
}

// TurnFreeze bids to hold windup.
func (c *Controller) TurnFreeze(bid int) error {
	return c.turnLock.Bid(profile.Command{Mode: profile.ModeFreeze}, bid)
}

// Freeze bids to hold both axes.
func (c *Controller) Freeze(bid int) error {
	merr := c.MoveFreeze(bid)
	terr := c.TurnFreeze(bid)
	switch {
	case merr != nil && terr != nil:
		return fmt.Errorf("%w; %w", merr, terr)
	case merr != nil:
		return merr
	}
	return terr
}

// AttnLED bids for the attention light.
func (c *Controller) AttnLED(on bool, bid int) error {
	return c.ledLock.Bid(on, bid)
}
