package orbslam

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

// SensorMode selects which sensor payloads the algorithm consumes.
type SensorMode int

// Supported sensor modes.
const (
	Monocular SensorMode = iota
	Stereo
	RGBD
)

func (m SensorMode) String() string {
	switch m {
	case Monocular:
		return "mono"
	case Stereo:
		return "stereo"
	case RGBD:
		return "rgbd"
	}
	return "unknown"
}

// ReadyToken is the literal a worker must emit on the return channel before
// any frame is considered accepted. The harness will not feed results from a
// worker that never announced readiness.
const ReadyToken = "ORBSLAM Ready!"

// FeedItem is one frame pushed onto the feed channel, tagged with the
// timestamp the result will be reconciled under. The feed channel is closed
// to signal that no more frames are coming.
type FeedItem struct {
	Timestamp float64
	Frame     trial.Frame
}

// FrameOutput is the worker's report for a single timestamp.
type FrameOutput struct {
	ProcessingTime float64
	NumFeatures    int
	NumMatches     int
	Tracking       trial.TrackingState
	// Pose is the estimated camera pose in the algorithm's native coordinate
	// frame, as the first 12 or all 16 values of a row-major homogeneous
	// transform. Nil when the frame was not tracked.
	Pose []float64
}

// Message is what travels back from the worker to the harness: exactly one
// readiness message first, then exactly one results payload as the worker's
// final act once the feed has drained.
type Message struct {
	Ready   string
	Results map[float64]FrameOutput
}

// WorkerConfig carries everything a worker needs to boot its algorithm.
type WorkerConfig struct {
	SettingsFile   string
	VocabularyFile string
	Mode           SensorMode
}

// Worker runs a SLAM algorithm against a stream of frames. Implementations
// must send a Message with Ready == ReadyToken before consuming frames, then
// consume feed until it is closed, and finally send a Message carrying the
// per-timestamp results. Returning before that final message is a failure.
// Cancelling ctx must terminate the worker promptly, killing any underlying
// process if necessary.
type Worker func(ctx context.Context, cfg WorkerConfig, feed <-chan FeedItem, out chan<- Message) error

// estimatedPose converts a worker pose matrix into a Pose in the benchmark's
// canonical world frame. The algorithm's native frame is z-forward/x-right;
// ours is x-forward/z-up, so translation maps (tx,ty,tz) -> (tz,-tx,-ty) and
// the rotation quaternion maps (w,x,y,z) -> (w,z,-x,-y). Downstream error
// math assumes this remap has already happened.
func estimatedPose(values []float64) (*spatialmath.Pose, error) {
	if len(values) != 12 && len(values) != 16 {
		return nil, errors.Errorf("expected a 12 or 16 value row-major pose matrix, got %d values", len(values))
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New("pose matrix contains non-finite values")
		}
	}
	tx, ty, tz := values[3], values[7], values[11]
	q := spatialmath.QuatFromRotationMatrix([9]float64{
		values[0], values[1], values[2],
		values[4], values[5], values[6],
		values[8], values[9], values[10],
	})
	return spatialmath.NewPose(
		r3.Vector{X: tz, Y: -tx, Z: -ty},
		quat.Number{Real: q.Real, Imag: q.Kmag, Jmag: -q.Imag, Kmag: -q.Jmag},
	), nil
}
