package body

import (
	"github.com/golang/geo/r3"

	"github.com/banshee-data/body.control/internal/base"
	"github.com/banshee-data/body.control/internal/config"
	"github.com/banshee-data/body.control/internal/cycle"
	"github.com/banshee-data/body.control/internal/depth"
	"github.com/banshee-data/body.control/internal/lift"
	"github.com/banshee-data/body.control/internal/nav"
	"github.com/banshee-data/body.control/internal/occmap"
)

// Config gathers the calibration of every component.
type Config struct {
	Base  base.Config
	Lift  lift.Config
	Depth depth.Params
	Map   occmap.Params
	Nav   nav.Params
	Cycle cycle.Options
}

// CameraFrom builds the depth camera model with the lift at its bottom.
func CameraFrom(c *config.CameraConfig) depth.Camera {
	return depth.Camera{
		Focal:    c.GetFocalPx(),
		Scaling:  c.GetScaling(),
		HFOV:     c.GetHFOVDeg(),
		MaxRange: c.GetMaxRangeIn(),
		Mount:    r3.Vector{X: c.GetMountXIn(), Y: c.GetMountYIn(), Z: c.GetMountZIn()},
		Tilt:     c.GetTiltDeg(),
	}
}

// ConfigFrom derives every component's calibration from the body config.
func ConfigFrom(c *config.BodyConfig) Config {
	m, g, n := c.Map, c.Geom, c.Nav
	return Config{
		Base: base.ConfigFrom(c),
		Lift: lift.ConfigFrom(c),
		Depth: depth.Params{
			Camera:   CameraFrom(c.Camera),
			ZHi:      m.GetObstacleZhiIn(),
			ZLo:      m.GetMissingZloIn(),
			Bump:     m.GetFloorBumpIn(),
			DropPels: m.GetDropPels(),
			HolePels: m.GetHolePels(),
		},
		Map: occmap.Params{
			IPP:       m.GetInchesPerPixel(),
			Edge:      m.GetEdgeIn(),
			Rate:      c.Cycle.GetRateHz(),
			Fade:      g.GetConfidenceFadeSec(),
			TempDecay: g.GetTempDecaySec(),
			Side:      g.GetRobotSideIn(),
			Fwd:       g.GetRobotFwdIn(),
			Back:      g.GetRobotBackIn(),
			Pad:       g.GetPadIn(),
		},
		Nav: nav.Params{
			Steps:     n.GetFanSteps(),
			Side:      g.GetRobotSideIn(),
			Fwd:       g.GetRobotFwdIn(),
			Back:      g.GetRobotBackIn(),
			Pad:       g.GetPadIn(),
			Edge:      m.GetEdgeIn(),
			Veer:      n.GetVeerDeg(),
			LeadIn:    n.GetLeadIn(),
			Free:      float64(n.GetFreeAllOrient()),
			MatW:      n.GetDoormatWIn(),
			MatH:      n.GetDoormatHIn(),
			MatValid:  n.GetDoormatValidSec(),
			Glide:     n.GetGlideIn(),
			OrientMax: n.GetOrientMaxDeg(),
			Hem:       n.GetHemIn(),
		},
		Cycle: cycle.OptionsFrom(c.Cycle),
	}
}
