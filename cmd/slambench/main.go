// Package main runs one SLAM benchmark trial end to end: import a dataset
// sequence, drive a worker binary over its frames, score the output against
// ground truth, and store the result.
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/slambench/dataset"
	"go.viam.com/slambench/dataset/euroc"
	"go.viam.com/slambench/dataset/tum"
	"go.viam.com/slambench/frameerror"
	"go.viam.com/slambench/orbslam"
	"go.viam.com/slambench/resultdb"
	"go.viam.com/slambench/trial"
)

var logger = golog.NewLogger("slambench")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	DatasetRoot string  `flag:"0,required,usage=path to the dataset root directory"`
	Format      string  `flag:"format,default=tum,usage=dataset format (tum or euroc)"`
	Name        string  `flag:"name,usage=sequence name (defaults to the dataset directory name)"`
	Worker      string  `flag:"worker,required,usage=path to the SLAM worker binary"`
	Vocabulary  string  `flag:"vocabulary,usage=path to the ORB vocabulary file"`
	Mode        string  `flag:"mode,usage=sensor mode (mono, stereo or rgbd; default picked from the dataset)"`
	Baseline    float64 `flag:"baseline,usage=stereo baseline in meters (stereo mode)"`
	DBPath      string  `flag:"db,default=results.db,usage=sqlite result database path"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Name == "" {
		argsParsed.Name = filepath.Base(filepath.Clean(argsParsed.DatasetRoot))
	}
	return runBenchmark(ctx, argsParsed, logger)
}

func importSequence(args Arguments) (*dataset.Sequence, error) {
	switch args.Format {
	case "tum":
		// a catalog name selects one sequence out of a root holding many
		if tum.KnownSequence(args.Name) {
			roots, err := tum.FindRoots(args.DatasetRoot)
			if err != nil {
				return nil, err
			}
			if root, ok := roots[args.Name]; ok {
				return tum.ImportDataset(root, args.Name)
			}
		}
		return tum.ImportDataset(args.DatasetRoot, args.Name)
	case "euroc":
		return euroc.ImportDataset(args.DatasetRoot, args.Name)
	}
	return nil, errors.Errorf("unknown dataset format %q", args.Format)
}

// pickMode chooses the richest sensor mode the sequence supports.
func pickMode(name string, seq *dataset.Sequence) (orbslam.SensorMode, error) {
	switch name {
	case "":
		if seq.DepthAvailable() {
			return orbslam.RGBD, nil
		}
		if seq.StereoAvailable() {
			return orbslam.Stereo, nil
		}
		return orbslam.Monocular, nil
	case "mono":
		return orbslam.Monocular, nil
	case "stereo":
		if !seq.StereoAvailable() {
			return 0, errors.Errorf("sequence %q has no right images, cannot run stereo", seq.Name)
		}
		return orbslam.Stereo, nil
	case "rgbd":
		if !seq.DepthAvailable() {
			return 0, errors.Errorf("sequence %q has no depth images, cannot run rgbd", seq.Name)
		}
		return orbslam.RGBD, nil
	}
	return 0, errors.Errorf("unknown sensor mode %q", name)
}

func loadFrame(timed dataset.TimedFrame) (trial.Frame, error) {
	frame := trial.Frame{CameraPose: timed.Pose}
	var err error
	if frame.Pixels, err = os.ReadFile(timed.ImageFile); err != nil {
		return trial.Frame{}, errors.Wrap(err, "reading image")
	}
	if timed.DepthFile != "" {
		if frame.Depth, err = os.ReadFile(timed.DepthFile); err != nil {
			return trial.Frame{}, errors.Wrap(err, "reading depth image")
		}
	}
	if timed.RightFile != "" {
		if frame.RightPixels, err = os.ReadFile(timed.RightFile); err != nil {
			return trial.Frame{}, errors.Wrap(err, "reading right image")
		}
	}
	return frame, nil
}

func runBenchmark(ctx context.Context, args Arguments, logger golog.Logger) (err error) {
	seq, err := importSequence(args)
	if err != nil {
		return err
	}
	logger.Infow("imported sequence",
		"dataset", seq.Dataset, "sequence", seq.Name, "frames", len(seq.Frames))

	mode, err := pickMode(args.Mode, seq)
	if err != nil {
		return err
	}

	system := orbslam.NewSystem(orbslam.Config{
		Mode:           mode,
		VocabularyFile: args.Vocabulary,
		StereoBaseline: args.Baseline,
	}, orbslam.NewProcessWorker(args.Worker, logger), logger)
	defer func() {
		err = multierr.Combine(err, system.Close())
	}()
	system.SetCameraIntrinsics(seq.Intrinsics, seq.FrameTime)

	logger.Infow("starting trial", "mode", mode, "worker", args.Worker)
	if err := system.StartTrial(ctx, seq.SequenceType); err != nil {
		return err
	}
	for _, timed := range seq.Frames {
		frame, err := loadFrame(timed)
		if err != nil {
			return err
		}
		if err := system.ProcessImage(ctx, frame, timed.Timestamp); err != nil {
			return err
		}
	}
	result, err := system.FinishTrial(ctx)
	if err != nil {
		return err
	}
	logger.Infow("trial finished",
		"success", result.Success, "run_time", result.RunTime, "frames", len(result.Frames))

	measured := frameerror.MeasureTrial(result)
	if err := logSummary(logger, measured); err != nil {
		return err
	}

	store, err := resultdb.Open(args.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, store.Close())
	}()

	trialID := uuid.NewString()
	if err := store.SaveTrial(trialID, seq.Dataset, seq.Name, result, measured); err != nil {
		return err
	}
	logger.Infow("trial stored", "trial_id", trialID, "db", args.DBPath)
	return nil
}

func logSummary(logger golog.Logger, measured *frameerror.TrialErrors) error {
	scored := frameerror.NewResult(measured)
	keyvals := []interface{}{
		"lost_spans", len(measured.FramesLost),
		"found_spans", len(measured.FramesFound),
	}
	for _, column := range []string{
		"mean_frames_lost", "max_frames_lost",
		"mean_times_lost", "mean_distance_lost",
		"mean_frames_found", "mean_times_found", "mean_distance_found",
	} {
		value, err := scored.Aggregate(column)
		if err != nil {
			return err
		}
		keyvals = append(keyvals, column, value)
	}
	logger.Infow("trial summary", keyvals...)
	return nil
}
