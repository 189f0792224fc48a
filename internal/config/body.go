// Package config loads the body calibration file. Every option is optional:
// a nil field falls back to the compiled default returned by its Get* method,
// so partial files are safe and a missing file still yields a working body.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/body.control/internal/monitoring"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/body.defaults.json"

// BodyConfig is the root of the calibration file.
type BodyConfig struct {
	Base   *BaseConfig   `json:"base,omitempty"`
	Lift   *LiftConfig   `json:"lift,omitempty"`
	Map    *MapConfig    `json:"map,omitempty"`
	Geom   *GeomConfig   `json:"geom,omitempty"`
	Nav    *NavConfig    `json:"nav,omitempty"`
	Camera *CameraConfig `json:"camera,omitempty"`
	Serial *SerialConfig `json:"serial,omitempty"`
	Cycle  *CycleConfig  `json:"cycle,omitempty"`
}

// BaseConfig covers the wheel drive.
type BaseConfig struct {
	WheelDiameterIn   *float64 `json:"wheel_diameter_in,omitempty"`
	WheelSeparationIn *float64 `json:"wheel_separation_in,omitempty"`
	PulsesPerRev      *float64 `json:"pulses_per_rev,omitempty"`
	MaxRPM            *float64 `json:"max_rpm,omitempty"`
	LoopP             *float64 `json:"loop_p,omitempty"`
	LoopI             *float64 `json:"loop_i,omitempty"`
	LoopD             *float64 `json:"loop_d,omitempty"`
	VmaxObserved      *float64 `json:"vmax_observed,omitempty"`
	BatteryEmptyV     *float64 `json:"battery_empty_v,omitempty"`
	MoveStdIPS        *float64 `json:"move_std_ips,omitempty"`
	MoveStdAccel      *float64 `json:"move_std_accel,omitempty"`
	MoveStdDecel      *float64 `json:"move_std_decel,omitempty"`
	TurnStdDPS        *float64 `json:"turn_std_dps,omitempty"`
	TurnStdAccel      *float64 `json:"turn_std_accel,omitempty"`
	TurnStdDecel      *float64 `json:"turn_std_decel,omitempty"`
	MoveSkidIn        *float64 `json:"move_skid_in,omitempty"`
	MoveDMaxDecel     *float64 `json:"move_dmax_decel,omitempty"`
	TurnSkidDeg       *float64 `json:"turn_skid_deg,omitempty"`
	TurnDMaxDecel     *float64 `json:"turn_dmax_decel,omitempty"`
	MoveDeadbandIn    *float64 `json:"move_deadband_in,omitempty"`
	TurnDeadbandDeg   *float64 `json:"turn_deadband_deg,omitempty"`
}

// LiftConfig covers the vertical stage.
type LiftConfig struct {
	BotIn           *float64 `json:"bot_in,omitempty"`
	TopIn           *float64 `json:"top_in,omitempty"`
	StdIPS          *float64 `json:"std_ips,omitempty"`
	StdAccel        *float64 `json:"std_accel,omitempty"`
	DefaultHeightIn *float64 `json:"default_height_in,omitempty"`
	DoneTolIn       *float64 `json:"done_tol_in,omitempty"`
}

// MapConfig covers depth projection and the occupancy rasters.
type MapConfig struct {
	InchesPerPixel *float64 `json:"inches_per_pixel,omitempty"`
	EdgeIn         *float64 `json:"edge_in,omitempty"`
	ObstacleZhiIn  *float64 `json:"obstacle_zhi_in,omitempty"`
	MissingZloIn   *float64 `json:"missing_zlo_in,omitempty"`
	FloorBumpIn    *float64 `json:"floor_bump_in,omitempty"`
	DropPels       *int     `json:"drop_pels,omitempty"`
	HolePels       *int     `json:"hole_pels,omitempty"`
}

// GeomConfig describes the robot footprint and map confidence timing.
type GeomConfig struct {
	RobotSideIn       *float64 `json:"robot_side_in,omitempty"`
	RobotFwdIn        *float64 `json:"robot_fwd_in,omitempty"`
	RobotBackIn       *float64 `json:"robot_back_in,omitempty"`
	PadIn             *float64 `json:"pad_in,omitempty"`
	ConfidenceFadeSec *float64 `json:"confidence_fade_sec,omitempty"`
	TempDecaySec      *float64 `json:"temp_decay_sec,omitempty"`
}

// NavConfig tunes the path evaluator.
type NavConfig struct {
	VeerDeg         *float64 `json:"veer_deg,omitempty"`
	LeadIn          *float64 `json:"lead_in,omitempty"`
	FreeAllOrient   *int     `json:"free_all_orient,omitempty"`
	DoormatWIn      *float64 `json:"doormat_w_in,omitempty"`
	DoormatHIn      *float64 `json:"doormat_h_in,omitempty"`
	DoormatValidSec *float64 `json:"doormat_valid_sec,omitempty"`
	GlideIn         *float64 `json:"glide_in,omitempty"`
	OrientMaxDeg    *float64 `json:"orient_max_deg,omitempty"`
	HemIn           *float64 `json:"hem_in,omitempty"`
	FanSteps        *int     `json:"fan_steps,omitempty"`
}

// CameraConfig holds depth camera intrinsics and its mount on the lift stage.
type CameraConfig struct {
	FocalPx    *float64 `json:"focal_px,omitempty"`
	Scaling    *float64 `json:"scaling,omitempty"` // inches per depth unit
	HFOVDeg    *float64 `json:"hfov_deg,omitempty"`
	MountXIn   *float64 `json:"mount_x_in,omitempty"`
	MountYIn   *float64 `json:"mount_y_in,omitempty"`
	MountZIn   *float64 `json:"mount_z_in,omitempty"` // above floor with the lift at bot_in
	TiltDeg    *float64 `json:"tilt_deg,omitempty"`
	MaxRangeIn *float64 `json:"max_range_in,omitempty"`
}

// SerialConfig names the device links.
type SerialConfig struct {
	MotorPort  *string `json:"motor_port,omitempty"`
	MotorBaud  *int    `json:"motor_baud,omitempty"`
	LiftPort   *string `json:"lift_port,omitempty"`
	LiftBaud   *int    `json:"lift_baud,omitempty"`
	LowLatency *bool   `json:"low_latency,omitempty"`
	Wait       *string `json:"wait,omitempty"` // duration string like "20ms"
}

// CycleConfig tunes the cycle engine.
type CycleConfig struct {
	RateHz        *float64 `json:"rate_hz,omitempty"`
	UpdateTimeout *string  `json:"update_timeout,omitempty"` // duration string like "1s"
	StopTimeout   *string  `json:"stop_timeout,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

func orFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func orInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func orDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// EmptyBodyConfig returns a config with every section unset, so all getters
// report compiled defaults.
func EmptyBodyConfig() *BodyConfig {
	return &BodyConfig{}
}

// LoadBodyConfig loads a BodyConfig from a JSON file. The file must have a
// .json extension and be under 1MB.
func LoadBodyConfig(path string) (*BodyConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBodyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var fallbackOnce sync.Once

// LoadBodyConfigOrDefault loads path, or returns the compiled defaults when
// the file does not exist. The fallback is logged once per process and the
// returned error wraps monitoring.ErrCalibrationMissing so callers can count
// it; any other load failure is returned with a nil config.
func LoadBodyConfigOrDefault(path string) (*BodyConfig, error) {
	cfg, err := LoadBodyConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	fallbackOnce.Do(func() {
		monitoring.Logf("config: %s not found, using compiled calibration defaults", path)
	})
	return EmptyBodyConfig(), fmt.Errorf("%s: %w", path, monitoring.ErrCalibrationMissing)
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up to the repository root. Panics if the file cannot be loaded;
// intended for test setup.
func MustLoadDefaultConfig() *BodyConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadBodyConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that would make the body unusable.
func (c *BodyConfig) Validate() error {
	b := c.Base
	if b.GetWheelDiameterIn() <= 0 {
		return fmt.Errorf("wheel_diameter_in must be positive, got %f", b.GetWheelDiameterIn())
	}
	if b.GetWheelSeparationIn() <= 0 {
		return fmt.Errorf("wheel_separation_in must be positive, got %f", b.GetWheelSeparationIn())
	}
	if b.GetPulsesPerRev() <= 0 {
		return fmt.Errorf("pulses_per_rev must be positive, got %f", b.GetPulsesPerRev())
	}
	if b.GetMaxRPM() <= 0 {
		return fmt.Errorf("max_rpm must be positive, got %f", b.GetMaxRPM())
	}
	for name, v := range map[string]float64{
		"move_std_ips": b.GetMoveStdIPS(), "move_std_accel": b.GetMoveStdAccel(), "move_std_decel": b.GetMoveStdDecel(),
		"turn_std_dps": b.GetTurnStdDPS(), "turn_std_accel": b.GetTurnStdAccel(), "turn_std_decel": b.GetTurnStdDecel(),
		"lift.std_ips": c.Lift.GetStdIPS(), "lift.std_accel": c.Lift.GetStdAccel(),
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, v)
		}
	}
	for name, v := range map[string]float64{
		"move_skid_in": b.GetMoveSkidIn(), "move_dmax_decel": b.GetMoveDMaxDecel(),
		"turn_skid_deg": b.GetTurnSkidDeg(), "turn_dmax_decel": b.GetTurnDMaxDecel(),
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %f", name, v)
		}
	}
	if c.Lift.GetTopIn() <= c.Lift.GetBotIn() {
		return fmt.Errorf("lift top_in (%f) must exceed bot_in (%f)", c.Lift.GetTopIn(), c.Lift.GetBotIn())
	}
	if h := c.Lift.GetDefaultHeightIn(); h < c.Lift.GetBotIn() || h > c.Lift.GetTopIn() {
		return fmt.Errorf("lift default_height_in %f outside [%f, %f]", h, c.Lift.GetBotIn(), c.Lift.GetTopIn())
	}
	if c.Map.GetInchesPerPixel() <= 0 {
		return fmt.Errorf("inches_per_pixel must be positive, got %f", c.Map.GetInchesPerPixel())
	}
	if c.Map.GetEdgeIn() < 4*c.Map.GetInchesPerPixel() {
		return fmt.Errorf("edge_in %f too small for inches_per_pixel %f", c.Map.GetEdgeIn(), c.Map.GetInchesPerPixel())
	}
	if c.Map.GetMissingZloIn() >= c.Map.GetObstacleZhiIn() {
		return fmt.Errorf("missing_zlo_in must be below obstacle_zhi_in")
	}
	if c.Geom.GetConfidenceFadeSec() <= 0 || c.Geom.GetTempDecaySec() <= 0 {
		return fmt.Errorf("confidence_fade_sec and temp_decay_sec must be positive")
	}
	if c.Geom.GetTempDecaySec() > c.Geom.GetConfidenceFadeSec() {
		return fmt.Errorf("temp_decay_sec %f exceeds confidence_fade_sec %f", c.Geom.GetTempDecaySec(), c.Geom.GetConfidenceFadeSec())
	}
	if n := c.Nav.GetFanSteps(); n < 4 || n%2 != 0 {
		return fmt.Errorf("fan_steps must be an even number >= 4, got %d", n)
	}
	if r := c.Cycle.GetRateHz(); r <= 0 || r > 200 {
		return fmt.Errorf("rate_hz must be in (0, 200], got %f", r)
	}
	for name, p := range map[string]*string{
		"serial.wait": c.Serial.waitField(), "cycle.update_timeout": c.Cycle.updateField(), "cycle.stop_timeout": c.Cycle.stopField(),
	} {
		if p != nil && *p != "" {
			if _, err := time.ParseDuration(*p); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *p, err)
			}
		}
	}
	return nil
}

func (c *SerialConfig) waitField() *string {
	if c == nil {
		return nil
	}
	return c.Wait
}

func (c *CycleConfig) updateField() *string {
	if c == nil {
		return nil
	}
	return c.UpdateTimeout
}

func (c *CycleConfig) stopField() *string {
	if c == nil {
		return nil
	}
	return c.StopTimeout
}
