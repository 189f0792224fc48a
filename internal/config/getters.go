package config

import "time"

// GetWheelDiameterIn returns wheel_diameter_in or its default.
func (c *BaseConfig) GetWheelDiameterIn() float64 {
	if c == nil {
		return 5.0
	}
	return orFloat(c.WheelDiameterIn, 5.0)
}

// GetWheelSeparationIn returns wheel_separation_in or its default.
func (c *BaseConfig) GetWheelSeparationIn() float64 {
	if c == nil {
		return 13.0
	}
	return orFloat(c.WheelSeparationIn, 13.0)
}

// GetPulsesPerRev returns pulses_per_rev or its default.
func (c *BaseConfig) GetPulsesPerRev() float64 {
	if c == nil {
		return 125.0
	}
	return orFloat(c.PulsesPerRev, 125.0)
}

// GetMaxRPM returns max_rpm or its default.
func (c *BaseConfig) GetMaxRPM() float64 {
	if c == nil {
		return 150.0
	}
	return orFloat(c.MaxRPM, 150.0)
}

// GetLoopP returns loop_p or its default.
func (c *BaseConfig) GetLoopP() float64 {
	if c == nil {
		return 1.0
	}
	return orFloat(c.LoopP, 1.0)
}

// GetLoopI returns loop_i or its default.
func (c *BaseConfig) GetLoopI() float64 {
	if c == nil {
		return 0.5
	}
	return orFloat(c.LoopI, 0.5)
}

// GetLoopD returns loop_d or its default.
func (c *BaseConfig) GetLoopD() float64 {
	if c == nil {
		return 0.25
	}
	return orFloat(c.LoopD, 0.25)
}

// GetVmaxObserved returns vmax_observed or its default.
func (c *BaseConfig) GetVmaxObserved() float64 {
	if c == nil {
		return 12.6
	}
	return orFloat(c.VmaxObserved, 12.6)
}

// GetBatteryEmptyV returns battery_empty_v or its default.
func (c *BaseConfig) GetBatteryEmptyV() float64 {
	if c == nil {
		return 10.8
	}
	return orFloat(c.BatteryEmptyV, 10.8)
}

// GetMoveStdIPS returns move_std_ips or its default.
func (c *BaseConfig) GetMoveStdIPS() float64 {
	if c == nil {
		return 8.0
	}
	return orFloat(c.MoveStdIPS, 8.0)
}

// GetMoveStdAccel returns move_std_accel or its default.
func (c *BaseConfig) GetMoveStdAccel() float64 {
	if c == nil {
		return 16.0
	}
	return orFloat(c.MoveStdAccel, 16.0)
}

// GetMoveStdDecel returns move_std_decel or its default.
func (c *BaseConfig) GetMoveStdDecel() float64 {
	if c == nil {
		return 16.0
	}
	return orFloat(c.MoveStdDecel, 16.0)
}

// GetTurnStdDPS returns turn_std_dps or its default.
func (c *BaseConfig) GetTurnStdDPS() float64 {
	if c == nil {
		return 60.0
	}
	return orFloat(c.TurnStdDPS, 60.0)
}

// GetTurnStdAccel returns turn_std_accel or its default.
func (c *BaseConfig) GetTurnStdAccel() float64 {
	if c == nil {
		return 120.0
	}
	return orFloat(c.TurnStdAccel, 120.0)
}

// GetTurnStdDecel returns turn_std_decel or its default.
func (c *BaseConfig) GetTurnStdDecel() float64 {
	if c == nil {
		return 120.0
	}
	return orFloat(c.TurnStdDecel, 120.0)
}

// GetMoveSkidIn returns move_skid_in or 0.
func (c *BaseConfig) GetMoveSkidIn() float64 {
	if c == nil {
		return 0
	}
	return orFloat(c.MoveSkidIn, 0)
}

// GetMoveDMaxDecel returns move_dmax_decel or 0.
func (c *BaseConfig) GetMoveDMaxDecel() float64 {
	if c == nil {
		return 0
	}
	return orFloat(c.MoveDMaxDecel, 0)
}

// GetTurnSkidDeg returns turn_skid_deg or 0.
func (c *BaseConfig) GetTurnSkidDeg() float64 {
	if c == nil {
		return 0
	}
	return orFloat(c.TurnSkidDeg, 0)
}

// GetTurnDMaxDecel returns turn_dmax_decel or 0.
func (c *BaseConfig) GetTurnDMaxDecel() float64 {
	if c == nil {
		return 0
	}
	return orFloat(c.TurnDMaxDecel, 0)
}

// GetMoveDeadbandIn returns move_deadband_in or its default.
func (c *BaseConfig) GetMoveDeadbandIn() float64 {
	if c == nil {
		return 0.5
	}
	return orFloat(c.MoveDeadbandIn, 0.5)
}

// GetTurnDeadbandDeg returns turn_deadband_deg or its default.
func (c *BaseConfig) GetTurnDeadbandDeg() float64 {
	if c == nil {
		return 2.0
	}
	return orFloat(c.TurnDeadbandDeg, 2.0)
}

// GetBotIn returns bot_in or its default.
func (c *LiftConfig) GetBotIn() float64 {
	if c == nil {
		return 0.0
	}
	return orFloat(c.BotIn, 0.0)
}

// GetTopIn returns top_in or its default.
func (c *LiftConfig) GetTopIn() float64 {
	if c == nil {
		return 12.0
	}
	return orFloat(c.TopIn, 12.0)
}

// GetStdIPS returns std_ips or its default.
func (c *LiftConfig) GetStdIPS() float64 {
	if c == nil {
		return 2.0
	}
	return orFloat(c.StdIPS, 2.0)
}

// GetStdAccel returns std_accel or its default.
func (c *LiftConfig) GetStdAccel() float64 {
	if c == nil {
		return 4.0
	}
	return orFloat(c.StdAccel, 4.0)
}

// GetDefaultHeightIn returns default_height_in or its default.
func (c *LiftConfig) GetDefaultHeightIn() float64 {
	if c == nil {
		return 6.0
	}
	return orFloat(c.DefaultHeightIn, 6.0)
}

// GetDoneTolIn returns done_tol_in or its default.
func (c *LiftConfig) GetDoneTolIn() float64 {
	if c == nil {
		return 0.25
	}
	return orFloat(c.DoneTolIn, 0.25)
}

// GetInchesPerPixel returns inches_per_pixel or its default.
func (c *MapConfig) GetInchesPerPixel() float64 {
	if c == nil {
		return 0.5
	}
	return orFloat(c.InchesPerPixel, 0.5)
}

// GetEdgeIn returns edge_in or its default.
func (c *MapConfig) GetEdgeIn() float64 {
	if c == nil {
		return 72.0
	}
	return orFloat(c.EdgeIn, 72.0)
}

// GetObstacleZhiIn returns obstacle_zhi_in or its default.
func (c *MapConfig) GetObstacleZhiIn() float64 {
	if c == nil {
		return 40.0
	}
	return orFloat(c.ObstacleZhiIn, 40.0)
}

// GetMissingZloIn returns missing_zlo_in or its default.
func (c *MapConfig) GetMissingZloIn() float64 {
	if c == nil {
		return -2.0
	}
	return orFloat(c.MissingZloIn, -2.0)
}

// GetFloorBumpIn returns floor_bump_in or its default.
func (c *MapConfig) GetFloorBumpIn() float64 {
	if c == nil {
		return 1.0
	}
	return orFloat(c.FloorBumpIn, 1.0)
}

// GetDropPels returns drop_pels or its default.
func (c *MapConfig) GetDropPels() int {
	if c == nil {
		return 4
	}
	return orInt(c.DropPels, 4)
}

// GetHolePels returns hole_pels or its default.
func (c *MapConfig) GetHolePels() int {
	if c == nil {
		return 9
	}
	return orInt(c.HolePels, 9)
}

// GetRobotSideIn returns robot_side_in or its default.
func (c *GeomConfig) GetRobotSideIn() float64 {
	if c == nil {
		return 7.0
	}
	return orFloat(c.RobotSideIn, 7.0)
}

// GetRobotFwdIn returns robot_fwd_in or its default.
func (c *GeomConfig) GetRobotFwdIn() float64 {
	if c == nil {
		return 8.0
	}
	return orFloat(c.RobotFwdIn, 8.0)
}

// GetRobotBackIn returns robot_back_in or its default.
func (c *GeomConfig) GetRobotBackIn() float64 {
	if c == nil {
		return 8.0
	}
	return orFloat(c.RobotBackIn, 8.0)
}

// GetPadIn returns pad_in or its default.
func (c *GeomConfig) GetPadIn() float64 {
	if c == nil {
		return 1.0
	}
	return orFloat(c.PadIn, 1.0)
}

// GetConfidenceFadeSec returns confidence_fade_sec or its default.
func (c *GeomConfig) GetConfidenceFadeSec() float64 {
	if c == nil {
		return 30.0
	}
	return orFloat(c.ConfidenceFadeSec, 30.0)
}

// GetTempDecaySec returns temp_decay_sec or its default.
func (c *GeomConfig) GetTempDecaySec() float64 {
	if c == nil {
		return 5.0
	}
	return orFloat(c.TempDecaySec, 5.0)
}

// GetVeerDeg returns veer_deg or its default.
func (c *NavConfig) GetVeerDeg() float64 {
	if c == nil {
		return 45.0
	}
	return orFloat(c.VeerDeg, 45.0)
}

// GetLeadIn returns lead_in or its default.
func (c *NavConfig) GetLeadIn() float64 {
	if c == nil {
		return 6.0
	}
	return orFloat(c.LeadIn, 6.0)
}

// GetFreeAllOrient returns free_all_orient or its default.
func (c *NavConfig) GetFreeAllOrient() int {
	if c == nil {
		return 0
	}
	return orInt(c.FreeAllOrient, 0)
}

// GetDoormatWIn returns doormat_w_in or its default.
func (c *NavConfig) GetDoormatWIn() float64 {
	if c == nil {
		return 14.0
	}
	return orFloat(c.DoormatWIn, 14.0)
}

// GetDoormatHIn returns doormat_h_in or its default.
func (c *NavConfig) GetDoormatHIn() float64 {
	if c == nil {
		return 12.0
	}
	return orFloat(c.DoormatHIn, 12.0)
}

// GetDoormatValidSec returns doormat_valid_sec or its default.
func (c *NavConfig) GetDoormatValidSec() float64 {
	if c == nil {
		return 3.0
	}
	return orFloat(c.DoormatValidSec, 3.0)
}

// GetGlideIn returns glide_in or its default.
func (c *NavConfig) GetGlideIn() float64 {
	if c == nil {
		return 12.0
	}
	return orFloat(c.GlideIn, 12.0)
}

// GetOrientMaxDeg returns orient_max_deg or its default.
func (c *NavConfig) GetOrientMaxDeg() float64 {
	if c == nil {
		return 60.0
	}
	return orFloat(c.OrientMaxDeg, 60.0)
}

// GetHemIn returns hem_in or its default.
func (c *NavConfig) GetHemIn() float64 {
	if c == nil {
		return 6.0
	}
	return orFloat(c.HemIn, 6.0)
}

// GetFanSteps returns fan_steps or its default.
func (c *NavConfig) GetFanSteps() int {
	if c == nil {
		return 12
	}
	return orInt(c.FanSteps, 12)
}

// GetFocalPx returns focal_px or its default.
func (c *CameraConfig) GetFocalPx() float64 {
	if c == nil {
		return 525.0
	}
	return orFloat(c.FocalPx, 525.0)
}

// GetScaling returns scaling or its default.
func (c *CameraConfig) GetScaling() float64 {
	if c == nil {
		return 0.03937
	}
	return orFloat(c.Scaling, 0.03937)
}

// GetHFOVDeg returns hfov_deg or its default.
func (c *CameraConfig) GetHFOVDeg() float64 {
	if c == nil {
		return 58.0
	}
	return orFloat(c.HFOVDeg, 58.0)
}

// GetMountXIn returns mount_x_in or its default.
func (c *CameraConfig) GetMountXIn() float64 {
	if c == nil {
		return 0.0
	}
	return orFloat(c.MountXIn, 0.0)
}

// GetMountYIn returns mount_y_in or its default.
func (c *CameraConfig) GetMountYIn() float64 {
	if c == nil {
		return 2.0
	}
	return orFloat(c.MountYIn, 2.0)
}

// GetMountZIn returns mount_z_in or its default.
func (c *CameraConfig) GetMountZIn() float64 {
	if c == nil {
		return 36.0
	}
	return orFloat(c.MountZIn, 30.0)
}

// GetTiltDeg returns tilt_deg or its default.
func (c *CameraConfig) GetTiltDeg() float64 {
	if c == nil {
		return -35.0
	}
	return orFloat(c.TiltDeg, -55.0)
}

// GetMaxRangeIn returns max_range_in or its default.
func (c *CameraConfig) GetMaxRangeIn() float64 {
	if c == nil {
		return 120.0
	}
	return orFloat(c.MaxRangeIn, 120.0)
}

// GetRateHz returns rate_hz or its default.
func (c *CycleConfig) GetRateHz() float64 {
	if c == nil {
		return 30.0
	}
	return orFloat(c.RateHz, 30.0)
}
// GetMotorPort returns motor_port or the default USB adapter path.
func (c *SerialConfig) GetMotorPort() string {
	if c == nil || c.MotorPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.MotorPort
}

// GetMotorBaud returns motor_baud or the default.
func (c *SerialConfig) GetMotorBaud() int {
	if c == nil {
		return 38400
	}
	return orInt(c.MotorBaud, 38400)
}

// GetLiftPort returns lift_port or the default servo controller path.
func (c *SerialConfig) GetLiftPort() string {
	if c == nil || c.LiftPort == nil {
		return "/dev/ttyACM0"
	}
	return *c.LiftPort
}

// GetLiftBaud returns lift_baud or the default.
func (c *SerialConfig) GetLiftBaud() int {
	if c == nil {
		return 9600
	}
	return orInt(c.LiftBaud, 9600)
}

// GetLowLatency reports whether USB adapters get the short latency timer.
func (c *SerialConfig) GetLowLatency() bool {
	if c == nil || c.LowLatency == nil {
		return true
	}
	return *c.LowLatency
}

// GetWait returns the per-receive wait of the serial transport.
func (c *SerialConfig) GetWait() time.Duration {
	if c == nil {
		return 20 * time.Millisecond
	}
	return orDuration(c.Wait, 20*time.Millisecond)
}

// GetUpdateTimeout bounds how long UpdateBody waits for a cycle.
func (c *CycleConfig) GetUpdateTimeout() time.Duration {
	if c == nil {
		return time.Second
	}
	return orDuration(c.UpdateTimeout, time.Second)
}

// GetStopTimeout bounds how long Stop waits for the cycle goroutines.
func (c *CycleConfig) GetStopTimeout() time.Duration {
	if c == nil {
		return time.Second
	}
	return orDuration(c.StopTimeout, time.Second)
}

// GetPeriod returns the nominal cycle period.
func (c *CycleConfig) GetPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.GetRateHz())
}
