package body

// Arbitrated setters. Each returns nil when the bid holds its lock,
// monitoring.ErrPreempted when an earlier bid of equal or higher priority
// does, and monitoring.ErrInvalidArgument for a bad value or priority.
// After a fatal error every setter returns it until ResetBody succeeds.

// check returns the body's or the running engine's fatal error, if any.
func (b *Body) check() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fatal != nil {
		return b.fatal
	}
	if b.engine != nil {
		return b.engine.Err()
	}
	return nil
}

// MoveTarget drives to an absolute travel of ins inches at rate times the
// standard speed.
func (b *Body) MoveTarget(ins, rate float64, bid int) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.base.MoveAbsolute(ins, rate, bid)
}

// TurnTarget turns to an absolute windup of degs degrees.
func (b *Body) TurnTarget(degs, rate float64, bid int) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.base.TurnAbsolute(degs, rate, bid)
}

// LiftTarget raises or lowers the stage to ins inches.
func (b *Body) LiftTarget(ins, rate float64, bid int) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.lift.Target(ins, rate, bid)
}

// DriveTarget bids for both wheel axes at once. Each axis is arbitrated on
// its own, so an error may leave one of them won.
func (b *Body) DriveTarget(ins, degs, moveRate, turnRate float64, bid int) error {
	if err := b.check(); err != nil {
		return err
	}
	return b.base.DriveAbsolute(ins, degs, moveRate, turnRate, bid)
}

// guarded runs set unless the body has failed.
func (b *Body) guarded(set func() error) error {
	if err := b.check(); err != nil {
		return err
	}
	return set()
}

func (b *Body) MoveVelocity(ips float64, bid int) error {
	return b.guarded(func() error { return b.base.SetMoveVel(ips, bid) })
}

func (b *Body) TurnVelocity(dps float64, bid int) error {
	return b.guarded(func() error { return b.base.SetTurnVel(dps, bid) })
}

func (b *Body) LiftVelocity(ips float64, bid int) error {
	return b.guarded(func() error { return b.lift.Velocity(ips, bid) })
}

func (b *Body) MoveStop(bid int) error {
	return b.guarded(func() error { return b.base.MoveStop(bid) })
}

func (b *Body) TurnStop(bid int) error {
	return b.guarded(func() error { return b.base.TurnStop(bid) })
}

func (b *Body) LiftStop(bid int) error {
	return b.guarded(func() error { return b.lift.Stop(bid) })
}

func (b *Body) MoveFreeze(bid int) error {
	return b.guarded(func() error { return b.base.MoveFreeze(bid) })
}

func (b *Body) TurnFreeze(bid int) error {
	return b.guarded(func() error { return b.base.TurnFreeze(bid) })
}

func (b *Body) LiftFreeze(bid int) error {
	return b.guarded(func() error { return b.lift.Freeze(bid) })
}

func (b *Body) AttnLED(on bool, bid int) error {
	return b.guarded(func() error { return b.base.AttnLED(on, bid) })
}

// Freeze bids to hold the base and the lift where they are.
func (b *Body) Freeze(bid int) error {
	if err := b.check(); err != nil {
		return err
	}
	err := b.base.Freeze(bid)
	if lerr := b.lift.Freeze(bid); err == nil {
		err = lerr
	}
	return err
}

// Limp releases every actuator on the next cycle. It is not arbitrated and
// works on a failed body too.
func (b *Body) Limp() {
	b.base.Limp()
	b.lift.Limp()
}
