package monitoring

import "errors"

// Error kinds reported by the body core. Lower layers wrap these with
// fmt.Errorf("...: %w", err); callers classify with errors.Is.
var (
	ErrLinkDown           = errors.New("link down")
	ErrCommCheck          = errors.New("packet check failed")
	ErrTimeout            = errors.New("timeout")
	ErrCalibrationMissing = errors.New("calibration missing")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrFatal              = errors.New("fatal body error")
	ErrPreempted          = errors.New("pre-empted by higher bid")
)

// Kind names the error class of err for counting, or "other".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatal):
		return "fatal"
	case errors.Is(err, ErrLinkDown):
		return "link_down"
	case errors.Is(err, ErrCommCheck):
		return "comm_check"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCalibrationMissing):
		return "calibration_missing"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrPreempted):
		return "preempted"
	}
	return "other"
}
