// Package trial defines the records produced by one execution of a SLAM
// algorithm over one image sequence: per-frame estimates, their tracking
// states, and the finished trial result handed to metrics and sinks.
package trial

import (
	"time"

	"go.viam.com/slambench/spatialmath"
)

// TrackingState classifies the algorithm's confidence for a single frame.
type TrackingState int

// The algorithm is either still initializing, tracking normally, or has lost
// tracking and is attempting to relocalize.
const (
	TrackingNotInitialized TrackingState = iota
	TrackingOK
	TrackingLost
)

func (s TrackingState) String() string {
	switch s {
	case TrackingNotInitialized:
		return "not_initialized"
	case TrackingOK:
		return "ok"
	case TrackingLost:
		return "lost"
	}
	return "unknown"
}

// SequenceType describes the ordering semantics of an image source.
type SequenceType int

// Sequential sources emit frames in a fixed temporal order. Non-sequential
// sources support random access; interactive ones are driven externally.
// SLAM is only meaningful over sequential sources.
const (
	SequenceSequential SequenceType = iota
	SequenceNonSequential
	SequenceInteractive
)

// Frame is one unit of sensor input fed to the algorithm. Pixels is always
// set; Depth and RightPixels are present only for RGBD and stereo sources
// respectively. The payloads are opaque to the harness.
type Frame struct {
	Pixels      []byte
	Depth       []byte
	RightPixels []byte

	// CameraPose is the ground-truth world pose of the camera at this frame,
	// when the source provides one.
	CameraPose *spatialmath.Pose
}

// FrameRecord is the harness' account of one processed frame. Exactly one is
// created per fed frame that the worker reported on, in feed order.
//
// EstimatedPose and EstimatedMotion are nil unless the frame was tracked
// (Tracking == TrackingOK); Pose and Motion carry the ground truth for the
// same frame and interval, when known.
type FrameRecord struct {
	Timestamp float64

	Pose   *spatialmath.Pose
	Motion *spatialmath.Pose

	EstimatedPose   *spatialmath.Pose
	EstimatedMotion *spatialmath.Pose

	Tracking       TrackingState
	NumFeatures    int
	NumMatches     int
	ProcessingTime float64
}

// Result is a finished trial. Success reports whether the trial produced any
// usable frame records; a worker that ran to completion but matched nothing
// yields Success == false without an error, which callers must distinguish
// from an infrastructure failure (those surface as errors instead).
type Result struct {
	Success  bool
	RunTime  time.Duration
	Settings map[string]interface{}
	Frames   []*FrameRecord
}
