// Package dataset defines the common shape of an imported benchmark dataset:
// a time-ordered sequence of frames with ground-truth poses, plus the camera
// calibration needed to configure an algorithm against it.
//
// The loaders in the subpackages parse the on-disk formats; nothing here
// touches files.
package dataset

import (
	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

// CameraIntrinsics is a pinhole camera model with Brown-Conrady distortion.
type CameraIntrinsics struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Cx     float64 `json:"cx"`
	Cy     float64 `json:"cy"`
	K1     float64 `json:"k1"`
	K2     float64 `json:"k2"`
	K3     float64 `json:"k3"`
	P1     float64 `json:"p1"`
	P2     float64 `json:"p2"`
}

// Valid returns whether the intrinsics describe a usable camera.
func (ci CameraIntrinsics) Valid() bool {
	return ci.Width > 0 && ci.Height > 0 && ci.Fx > 0 && ci.Fy > 0
}

// EnvironmentType coarsely classifies the environment a sequence was
// captured in.
type EnvironmentType int

// Environment classes, from confined indoor scenes to open outdoor ones.
const (
	EnvironmentIndoorClose EnvironmentType = iota
	EnvironmentIndoor
	EnvironmentOutdoorUrban
	EnvironmentOutdoor
)

func (e EnvironmentType) String() string {
	switch e {
	case EnvironmentIndoorClose:
		return "indoor_close"
	case EnvironmentIndoor:
		return "indoor"
	case EnvironmentOutdoorUrban:
		return "outdoor_urban"
	case EnvironmentOutdoor:
		return "outdoor"
	}
	return "unknown"
}

// TimedFrame is one aligned entry of an imported sequence: the timestamp on
// the reference clock, where to find the sensor data, and the ground-truth
// pose associated to that timestamp.
type TimedFrame struct {
	Timestamp float64
	ImageFile string
	DepthFile string
	RightFile string
	Pose      *spatialmath.Pose
}

// Sequence is a fully imported dataset sequence, aligned onto a single clock
// with timestamps re-zeroed to the first frame.
type Sequence struct {
	Dataset      string
	Name         string
	SequenceType trial.SequenceType
	Frames       []TimedFrame
	Intrinsics   CameraIntrinsics
	Environment  EnvironmentType
	// FrameTime is the nominal seconds between frames, used to configure an
	// algorithm's expected camera rate.
	FrameTime float64
}

// StereoAvailable reports whether every frame carries a right image.
func (s *Sequence) StereoAvailable() bool {
	if len(s.Frames) == 0 {
		return false
	}
	for _, f := range s.Frames {
		if f.RightFile == "" {
			return false
		}
	}
	return true
}

// DepthAvailable reports whether every frame carries a depth image.
func (s *Sequence) DepthAvailable() bool {
	if len(s.Frames) == 0 {
		return false
	}
	for _, f := range s.Frames {
		if f.DepthFile == "" {
			return false
		}
	}
	return true
}
