package robot

import (
	"errors"
	"fmt"
)

var (
	// ErrCalibrationRequired is returned when a hardware driver is asked to
	// enter its active phase while any joint is still uncalibrated.
	ErrCalibrationRequired = errors.New("calibration required")

	// ErrConsumerAttached is returned by UpdateJoint while a consumer is
	// attached; the consumer owns the command stream.
	ErrConsumerAttached = errors.New("manual control disabled while a consumer is attached")

	// ErrUnknownJoint marks a joint name outside the robot's descriptor.
	ErrUnknownJoint = errors.New("unknown joint")

	// ErrNotConnected is returned by driver operations that need a live
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrNoRelay is returned by manager room operations when no relay
	// client is configured.
	ErrNoRelay = errors.New("no relay configured")
)

// ConnectError reports a transport that could not be opened.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// WriteError reports a hardware write that failed after exhausting its
// retry budget. ServoID is 0 when the whole batch failed.
type WriteError struct {
	ServoID  int
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	if e.ServoID > 0 {
		return fmt.Sprintf("write servo %d failed after %d attempts: %v", e.ServoID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("batch write failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports a hardware read that failed after exhausting its retry
// budget. ServoID is 0 when a batch read failed.
type ReadError struct {
	ServoID int
	Err     error
}

func (e *ReadError) Error() string {
	if e.ServoID > 0 {
		return fmt.Sprintf("read servo %d: %v", e.ServoID, e.Err)
	}
	return fmt.Sprintf("batch read: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
