package frameerror

import (
	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

// FrameError carries every error measured for a single processed frame.
// AbsoluteError compares the world-frame pose estimate against ground truth;
// RelativeError compares the estimated frame-to-frame motion against the
// ground-truth motion over the same interval. Both are nil whenever the
// tracking state left the corresponding estimate unpopulated.
type FrameError struct {
	Timestamp      float64
	Tracking       trial.TrackingState
	Motion         *spatialmath.Pose
	ProcessingTime float64
	NumFeatures    int
	NumMatches     int
	AbsoluteError  *PoseError
	RelativeError  *PoseError
}

// TrialErrors is the full error account of one trial: per-frame errors plus
// the lost/found span series. Each contiguous run of lost frames contributes
// one entry to the three *Lost series (frame count, timestamp extent, and
// ground-truth path distance covered); runs of tracked frames feed the
// *Found counterparts. Frames that never initialized belong to neither.
type TrialErrors struct {
	FrameErrors    []FrameError
	FramesLost     []float64
	FramesFound    []float64
	TimesLost      []float64
	TimesFound     []float64
	DistancesLost  []float64
	DistancesFound []float64
}

// MeasureTrial scores every frame of a finished trial against its ground
// truth and collects the tracking span series, walking frames in feed order.
func MeasureTrial(result *trial.Result) *TrialErrors {
	errs := &TrialErrors{
		FrameErrors: make([]FrameError, 0, len(result.Frames)),
	}

	var span *spanAccumulator
	for _, record := range result.Frames {
		frameErr := FrameError{
			Timestamp:      record.Timestamp,
			Tracking:       record.Tracking,
			Motion:         record.Motion,
			ProcessingTime: record.ProcessingTime,
			NumFeatures:    record.NumFeatures,
			NumMatches:     record.NumMatches,
		}
		if record.Tracking == trial.TrackingOK && record.EstimatedPose != nil && record.Pose != nil {
			absErr := MakePoseError(record.EstimatedPose, record.Pose)
			frameErr.AbsoluteError = &absErr
		}
		if record.EstimatedMotion != nil && record.Motion != nil {
			relErr := MakePoseError(record.EstimatedMotion, record.Motion)
			frameErr.RelativeError = &relErr
		}
		errs.FrameErrors = append(errs.FrameErrors, frameErr)

		span = errs.advanceSpan(span, record)
	}
	errs.closeSpan(span)
	return errs
}

// spanAccumulator tracks one contiguous run of frames sharing a tracking
// classification.
type spanAccumulator struct {
	lost      bool
	frames    float64
	firstTime float64
	lastTime  float64
	distance  float64
	lastPose  *spatialmath.Pose
}

func (te *TrialErrors) advanceSpan(span *spanAccumulator, record *trial.FrameRecord) *spanAccumulator {
	var lost bool
	switch record.Tracking {
	case trial.TrackingOK:
		lost = false
	case trial.TrackingLost:
		lost = true
	case trial.TrackingNotInitialized:
		// uninitialized frames are neither lost nor found; they end any run
		te.closeSpan(span)
		return nil
	}

	if span != nil && span.lost != lost {
		te.closeSpan(span)
		span = nil
	}
	if span == nil {
		span = &spanAccumulator{lost: lost, firstTime: record.Timestamp}
	}
	span.frames++
	span.lastTime = record.Timestamp
	if span.lastPose != nil && record.Pose != nil {
		span.distance += record.Pose.Point().Sub(span.lastPose.Point()).Norm()
	}
	if record.Pose != nil {
		span.lastPose = record.Pose
	}
	return span
}

func (te *TrialErrors) closeSpan(span *spanAccumulator) {
	if span == nil {
		return
	}
	duration := span.lastTime - span.firstTime
	if span.lost {
		te.FramesLost = append(te.FramesLost, span.frames)
		te.TimesLost = append(te.TimesLost, duration)
		te.DistancesLost = append(te.DistancesLost, span.distance)
	} else {
		te.FramesFound = append(te.FramesFound, span.frames)
		te.TimesFound = append(te.TimesFound, duration)
		te.DistancesFound = append(te.DistancesFound, span.distance)
	}
}
