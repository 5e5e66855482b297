package resultdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/slambench/frameerror"
	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

func sampleTrial() (*trial.Result, *frameerror.TrialErrors) {
	result := &trial.Result{
		Success:  true,
		RunTime:  2 * time.Second,
		Settings: map[string]interface{}{"mode": "rgbd"},
	}
	states := []trial.TrackingState{
		trial.TrackingNotInitialized,
		trial.TrackingOK,
		trial.TrackingLost,
		trial.TrackingOK,
	}
	for i, state := range states {
		record := &trial.FrameRecord{
			Timestamp: float64(i),
			Tracking:  state,
			Pose:      spatialmath.NewPoseFromPoint(r3.Vector{X: float64(i)}),
		}
		if state == trial.TrackingOK {
			record.EstimatedPose = spatialmath.NewPoseFromPoint(r3.Vector{X: float64(i) + 0.1})
		}
		result.Frames = append(result.Frames, record)
	}
	return result, frameerror.MeasureTrial(result)
}

func TestSaveAndLoadTrial(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, store.Close(), test.ShouldBeNil)
	}()

	result, measured := sampleTrial()
	test.That(t, store.SaveTrial("trial-1", "TUM RGB-D", "freiburg1_desk", result, measured), test.ShouldBeNil)

	summary, err := store.LoadSummary("trial-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Dataset, test.ShouldEqual, "TUM RGB-D")
	test.That(t, summary.Sequence, test.ShouldEqual, "freiburg1_desk")
	test.That(t, summary.Success, test.ShouldBeTrue)
	test.That(t, summary.RunTimeSeconds, test.ShouldEqual, 2)
	test.That(t, summary.FrameCount, test.ShouldEqual, 4)
	test.That(t, summary.LostSpans, test.ShouldEqual, 1)
}

func TestSaveTrialDuplicateID(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, store.Close(), test.ShouldBeNil)
	}()

	result, measured := sampleTrial()
	test.That(t, store.SaveTrial("trial-1", "d", "s", result, measured), test.ShouldBeNil)
	err = store.SaveTrial("trial-1", "d", "s", result, measured)
	test.That(t, err, test.ShouldNotBeNil)

	// the failed save must not leave partial frame rows behind
	summary, err := store.LoadSummary("trial-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.FrameCount, test.ShouldEqual, 4)
}

func TestLoadSummaryMissing(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, store.Close(), test.ShouldBeNil)
	}()

	_, err = store.LoadSummary("nope")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := Open(path)
	test.That(t, err, test.ShouldBeNil)
	result, measured := sampleTrial()
	test.That(t, store.SaveTrial("trial-1", "d", "s", result, measured), test.ShouldBeNil)
	test.That(t, store.Close(), test.ShouldBeNil)

	reopened, err := Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, reopened.Close(), test.ShouldBeNil)
	}()
	summary, err := reopened.LoadSummary("trial-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.FrameCount, test.ShouldEqual, 4)
}
