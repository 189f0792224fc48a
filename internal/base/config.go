package base

import (
	"time"

	"github.com/banshee-data/body.control/internal/config"
	"github.com/banshee-data/body.control/internal/motorlink"
	"github.com/banshee-data/body.control/internal/odometry"
	"github.com/banshee-data/body.control/internal/profile"
)

// BatteryEvery is how many cycles pass between battery reads.
const BatteryEvery = 15

// FarMove and FarTurn place the synthetic goal of a velocity command, in
// inches of trav and degrees of windup.
const (
	FarMove = 1000.0
	FarTurn = 3600.0
)

// Config is the base calibration.
type Config struct {
	Geometry odometry.Geometry
	Move     profile.Limits // inches on trav
	Turn     profile.Limits // degrees on windup
	Loop     motorlink.PID  // gain scale factors; QPPS is derived from MaxRPM
	Vmax     float64        // full-charge voltage observed so far
	Empty    float64        // voltage reported as 0 %
	Period   time.Duration
}

// ConfigFrom extracts the base calibration from a body config.
func ConfigFrom(c *config.BodyConfig) Config {
	b := c.Base
	return Config{
		Geometry: odometry.Geometry{
			WheelDiameter:   b.GetWheelDiameterIn(),
			WheelSeparation: b.GetWheelSeparationIn(),
			PulsesPerRev:    b.GetPulsesPerRev(),
			MaxRPM:          b.GetMaxRPM(),
		},
		Move: profile.Limits{
			Std:   b.GetMoveStdIPS(),
			Accel: b.GetMoveStdAccel(),
			Decel: b.GetMoveStdDecel(),
			DMax:  b.GetMoveDMaxDecel(),
			Skid:  b.GetMoveSkidIn(),
			Done:  b.GetMoveDeadbandIn(),
		},
		Turn: profile.Limits{
			Std:   b.GetTurnStdDPS(),
			Accel: b.GetTurnStdAccel(),
			Decel: b.GetTurnStdDecel(),
			DMax:  b.GetTurnDMaxDecel(),
			Skid:  b.GetTurnSkidDeg(),
			Done:  b.GetTurnDeadbandDeg(),
		},
		Loop:   motorlink.PID{P: b.GetLoopP(), I: b.GetLoopI(), D: b.GetLoopD()},
		Vmax:   b.GetVmaxObserved(),
		Empty:  b.GetBatteryEmptyV(),
		Period: c.Cycle.GetPeriod(),
	}
}

// QPPS is the top wheel speed in pulses per second.
func (c Config) QPPS() uint32 {
	return uint32(c.Geometry.MaxWheelIPS()/c.Geometry.InchesPerPulse() + 0.5)
}
