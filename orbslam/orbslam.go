// Package orbslam drives an ORB-SLAM style algorithm through one trial at a
// time. The algorithm runs as an isolated worker, either in-process or as a
// managed child process, and communicates with the harness over exactly two
// unidirectional channels: a frame feed and a return channel. The harness
// owns all blocking: waiting for worker readiness on start, waiting for the
// drained results on finish, and bounded joins on every termination path.
package orbslam

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/slambench/dataset"
	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

type trialState int

const (
	stateNotStarted trialState = iota
	stateRunning
	stateFinished
	stateFailed
)

func (s trialState) String() string {
	switch s {
	case stateNotStarted:
		return "not started"
	case stateRunning:
		return "running"
	case stateFinished:
		return "finished"
	case stateFailed:
		return "failed"
	}
	return "unknown"
}

const (
	defaultFeedCapacity = 256
	defaultReadyTimeout = 30 * time.Second
	defaultDrainTimeout = 10 * time.Minute
	defaultJoinTimeout  = 10 * time.Second
)

// Config holds the algorithm parameters and harness limits for a System.
// Zero values take the documented defaults.
type Config struct {
	// ID uniquely identifies this system instance. It is baked into
	// scratch-artifact names so concurrent trials cannot collide. A random
	// ID is assigned when empty.
	ID string

	Mode           SensorMode
	VocabularyFile string

	OrbNumFeatures      int     // default 1250
	OrbScaleFactor      float64 // default 1.2
	OrbNumLevels        int     // default 8
	OrbIniThresholdFAST int     // default 20
	OrbMinThresholdFAST int     // default 7
	DepthThreshold      float64 // default 40
	DepthMapFactor      float64 // default 1
	StereoBaseline      float64 // meters, required for stereo mode

	// FeedCapacity bounds the frame feed channel. ProcessImage blocks once
	// this high-water mark is reached, so a stalled worker exerts
	// backpressure on the feeder instead of growing memory without bound.
	FeedCapacity int

	ReadyTimeout time.Duration
	DrainTimeout time.Duration
	JoinTimeout  time.Duration

	// ScratchDir is where settings artifacts are written. Defaults to the
	// system temp directory.
	ScratchDir string
}

func (cfg *Config) setDefaults() {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.OrbNumFeatures == 0 {
		cfg.OrbNumFeatures = 1250
	}
	if cfg.OrbScaleFactor == 0 {
		cfg.OrbScaleFactor = 1.2
	}
	if cfg.OrbNumLevels == 0 {
		cfg.OrbNumLevels = 8
	}
	if cfg.OrbIniThresholdFAST == 0 {
		cfg.OrbIniThresholdFAST = 20
	}
	if cfg.OrbMinThresholdFAST == 0 {
		cfg.OrbMinThresholdFAST = 7
	}
	if cfg.DepthThreshold == 0 {
		cfg.DepthThreshold = 40
	}
	if cfg.DepthMapFactor == 0 {
		cfg.DepthMapFactor = 1
	}
	if cfg.FeedCapacity == 0 {
		cfg.FeedCapacity = defaultFeedCapacity
	}
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
}

// fedFrame remembers what the harness pushed so worker output can be
// reconciled against it later.
type fedFrame struct {
	timestamp float64
	pose      *spatialmath.Pose
}

// System drives one worker through the trial protocol. A System owns at most
// one live worker at a time and may be reused for another trial after a
// successful finish; a failed trial is terminal for the System.
type System struct {
	cfg    Config
	worker Worker
	logger golog.Logger
	clock  clock.Clock

	mu           sync.Mutex
	state        trialState
	intrinsics   dataset.CameraIntrinsics
	frameTime    float64
	settingsFile string
	lastConf     *ORBSettings
	feed         chan FeedItem
	ret          chan Message
	workerDone   chan struct{}
	workerCancel func()
	startedAt    time.Time
	fed          []fedFrame
	fedIndex     map[float64]int
}

// NewSystem returns a System that will run trials against the given worker.
func NewSystem(cfg Config, worker Worker, logger golog.Logger) *System {
	cfg.setDefaults()
	return &System{
		cfg:    cfg,
		worker: worker,
		logger: logger,
		clock:  clock.New(),
	}
}

// SetCameraIntrinsics provides the camera calibration of the image source the
// next trial will run over, plus the nominal seconds between frames. Must be
// called before StartTrial.
func (s *System) SetCameraIntrinsics(intrinsics dataset.CameraIntrinsics, frameTime float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intrinsics = intrinsics
	s.frameTime = frameTime
}

// StartTrial prepares a trial over a source of the given sequence type. For
// anything other than a sequential source this is a no-op: the algorithm is
// only meaningful over strictly ordered streams, and the system stays idle.
//
// Otherwise the settings artifact is written, the worker is spawned, and the
// call blocks until the worker announces readiness or ReadyTimeout elapses.
// On timeout the worker is terminated, the artifact removed, and a startup
// error returned; the system is then failed and a retry needs a fresh one.
func (s *System) StartTrial(ctx context.Context, sequenceType trial.SequenceType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return errors.New("cannot start trial: a trial is already running")
	case stateFailed:
		return errors.New("cannot start trial: system has failed and must be recreated")
	case stateNotStarted, stateFinished:
	}

	if sequenceType != trial.SequenceSequential {
		s.logger.Debugf("source sequence type %v is not sequential, not starting a trial", sequenceType)
		return nil
	}

	settingsFile, err := s.writeSettings()
	if err != nil {
		return errors.Wrap(err, "error preparing trial settings")
	}

	feed := make(chan FeedItem, s.cfg.FeedCapacity)
	ret := make(chan Message, 2)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	workerCfg := WorkerConfig{
		SettingsFile:   settingsFile,
		VocabularyFile: s.cfg.VocabularyFile,
		Mode:           s.cfg.Mode,
	}
	worker := s.worker
	logger := s.logger
	goutils.PanicCapturingGo(func() {
		defer close(done)
		if err := worker(workerCtx, workerCfg, feed, ret); err != nil {
			logger.Errorw("worker exited with error", "error", err)
		}
	})

	s.settingsFile = settingsFile
	s.feed = feed
	s.ret = ret
	s.workerDone = done
	s.workerCancel = workerCancel

	select {
	case msg := <-ret:
		if msg.Ready != ReadyToken {
			err := errors.Errorf("worker sent %q before announcing readiness", msg.Ready)
			return s.failLocked(err)
		}
	case <-s.clock.After(s.cfg.ReadyTimeout):
		err := errors.Errorf("timed out after %v waiting for worker readiness", s.cfg.ReadyTimeout)
		return s.failLocked(err)
	case <-ctx.Done():
		return s.failLocked(ctx.Err())
	}

	s.state = stateRunning
	s.startedAt = s.clock.Now()
	s.fed = nil
	s.fedIndex = map[float64]int{}
	s.logger.Debugw("trial started", "system", s.cfg.ID, "settings", settingsFile)
	return nil
}

// ProcessImage pushes one frame onto the feed channel, tagged with its
// timestamp. The worker consumes asynchronously and in its own time; no
// per-frame acknowledgment exists. The call only blocks if the feed has
// reached its capacity, or if ctx is cancelled while waiting.
func (s *System) ProcessImage(ctx context.Context, frame trial.Frame, timestamp float64) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return errors.Errorf("cannot process image: trial is %v, not running", s.state)
	}
	if _, ok := s.fedIndex[timestamp]; ok {
		s.mu.Unlock()
		return errors.Errorf("duplicate frame timestamp %v", timestamp)
	}
	s.fedIndex[timestamp] = len(s.fed)
	s.fed = append(s.fed, fedFrame{timestamp: timestamp, pose: frame.CameraPose})
	feed := s.feed
	s.mu.Unlock()

	select {
	case feed <- FeedItem{Timestamp: timestamp, Frame: frame}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinishTrial closes the feed, waits for the worker to drain and report its
// results, joins the worker, and reconciles the results against the frames
// that were fed. Calling it on a system with no running trial is a usage
// error. On a drain or join timeout the worker is forcibly terminated, the
// settings artifact removed, and a termination error returned.
//
// A trial that ran to completion but produced zero usable frame records is
// not an error: the returned result simply has Success == false.
func (s *System) FinishTrial(ctx context.Context) (*trial.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return nil, errors.Errorf("cannot finish trial: trial is %v, not running", s.state)
	}

	// the closed feed is the "no more frames" sentinel
	close(s.feed)
	s.feed = nil

	var results map[float64]FrameOutput
	select {
	case msg := <-s.ret:
		if msg.Results == nil {
			err := errors.New("worker closed without sending results")
			return nil, s.failLocked(err)
		}
		results = msg.Results
	case <-s.clock.After(s.cfg.DrainTimeout):
		err := errors.Errorf("timed out after %v waiting for worker results", s.cfg.DrainTimeout)
		return nil, s.failLocked(err)
	case <-ctx.Done():
		return nil, s.failLocked(ctx.Err())
	}

	// join; cancellation escalates to a kill inside the worker
	s.workerCancel()
	select {
	case <-s.workerDone:
	case <-s.clock.After(s.cfg.JoinTimeout):
		err := errors.Errorf("worker did not terminate within %v of receiving results", s.cfg.JoinTimeout)
		return nil, s.failLocked(err)
	}
	runTime := s.clock.Since(s.startedAt)

	if err := s.removeSettingsLocked(); err != nil {
		s.logger.Errorw("error removing settings artifact", "error", err)
	}
	s.workerCancel = nil
	s.workerDone = nil
	s.ret = nil

	frames := s.reconcileLocked(results)
	s.state = stateFinished
	return &trial.Result{
		Success:  len(frames) > 0,
		RunTime:  runTime,
		Settings: settingsSnapshot(s.cfg, s.lastConf),
		Frames:   frames,
	}, nil
}

// reconcileLocked turns the worker's per-timestamp output into frame records.
// The record list follows the order frames were fed, not the order results
// came back; fed frames the worker never reported on get no record at all,
// and reported timestamps that were never fed are warned about and dropped.
func (s *System) reconcileLocked(results map[float64]FrameOutput) []*trial.FrameRecord {
	for timestamp := range results {
		if _, ok := s.fedIndex[timestamp]; !ok {
			s.logger.Warnf("worker reported timestamp %v with no matching frame, ignoring it", timestamp)
		}
	}

	frames := make([]*trial.FrameRecord, 0, len(s.fed))
	var prev *trial.FrameRecord
	for _, fed := range s.fed {
		out, ok := results[fed.timestamp]
		if !ok {
			// the worker may drop frames internally; that costs a record but
			// is not an error
			s.logger.Warnf("worker did not report a result for frame timestamp %v", fed.timestamp)
			continue
		}
		record := &trial.FrameRecord{
			Timestamp:      fed.timestamp,
			Pose:           fed.pose,
			Tracking:       out.Tracking,
			NumFeatures:    out.NumFeatures,
			NumMatches:     out.NumMatches,
			ProcessingTime: out.ProcessingTime,
		}
		if prev != nil && prev.Pose != nil && fed.pose != nil {
			record.Motion = spatialmath.PoseBetween(prev.Pose, fed.pose)
		}
		if out.Tracking == trial.TrackingOK && out.Pose != nil {
			pose, err := estimatedPose(out.Pose)
			if err != nil {
				s.logger.Warnf("discarding unusable pose estimate for timestamp %v: %v", fed.timestamp, err)
			} else {
				record.EstimatedPose = pose
				if prev != nil && prev.EstimatedPose != nil {
					record.EstimatedMotion = spatialmath.PoseBetween(prev.EstimatedPose, pose)
				}
			}
		}
		frames = append(frames, record)
		prev = record
	}
	return frames
}

// failLocked tears a trial down after a protocol failure: the worker is
// terminated and joined (with an unconditional kill escalation built into
// cancellation), and the settings artifact is removed. The system ends in
// the terminal failed state. The returned error wraps cause with anything
// that went wrong during cleanup.
func (s *System) failLocked(cause error) error {
	err := cause
	if s.workerCancel != nil {
		s.workerCancel()
		select {
		case <-s.workerDone:
		case <-s.clock.After(s.cfg.JoinTimeout):
			err = multierr.Combine(err, errors.New("worker did not terminate during cleanup"))
		}
		s.workerCancel = nil
		s.workerDone = nil
	}
	s.feed = nil
	s.ret = nil
	if removeErr := s.removeSettingsLocked(); removeErr != nil {
		err = multierr.Combine(err, removeErr)
	}
	s.state = stateFailed
	return err
}

func (s *System) removeSettingsLocked() error {
	if s.settingsFile == "" {
		return nil
	}
	file := s.settingsFile
	s.settingsFile = ""
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "error removing settings artifact")
	}
	return nil
}

// Close aborts any running trial, guaranteeing the worker is gone and the
// settings artifact removed. Safe to call on any state.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return s.removeSettingsLocked()
	}
	err := s.failLocked(nil)
	s.logger.Debugw("trial aborted", "system", s.cfg.ID)
	return err
}

// settingsSnapshot flattens the configuration a trial actually ran with, for
// storage alongside its result.
func settingsSnapshot(cfg Config, conf *ORBSettings) map[string]interface{} {
	return map[string]interface{}{
		"system_id":        cfg.ID,
		"mode":             cfg.Mode.String(),
		"vocabulary_file":  cfg.VocabularyFile,
		"orb_num_features": conf.NFeatures,
		"orb_scale_factor": conf.ScaleFactor,
		"orb_num_levels":   conf.NLevels,
		"orb_ini_th_fast":  conf.IniThFAST,
		"orb_min_th_fast":  conf.MinThFAST,
		"depth_threshold":  conf.StereoThDepth,
		"depthmap_factor":  conf.DepthMapFactor,
		"stereo_baseline":  conf.Stereob,
		"camera_width":     conf.Width,
		"camera_height":    conf.Height,
		"camera_fx":        conf.Fx,
		"camera_fy":        conf.Fy,
		"camera_cx":        conf.Ppx,
		"camera_cy":        conf.Ppy,
		"camera_fps":       conf.FPSCamera,
	}
}
