// Package euroc imports sequences from the EuRoC MAV stereo benchmark. A
// sequence root (the extracted mav0 directory) holds per-sensor directories,
// each with a CSV listing keyed by integer nanosecond timestamps and a
// sensor.yaml calibration file. The stereo pair and the ground-truth state
// estimate run on separate clocks and are merged by timestamp association.
package euroc

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
	"gopkg.in/yaml.v3"

	"go.viam.com/slambench/associate"
	"go.viam.com/slambench/dataset"
	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

// maxDifference is the association tolerance between sensor clocks, in
// nanoseconds. EuRoC sensors are hardware synchronized, so the clocks only
// ever disagree by a couple of ticks.
const maxDifference = 3

// frameTime is the nominal frame interval; the cameras run at 20Hz.
const frameTime = 1.0 / 20.0

// makeCameraPose converts an EuRoC ground-truth pose into our coordinate
// convention, z-forward to x-forward.
func makeCameraPose(tx, ty, tz, qw, qx, qy, qz float64) *spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: tz, Y: -tx, Z: -ty},
		quat.Number{Real: qw, Imag: qz, Jmag: -qx, Kmag: -qy},
	)
}

// ReadImageFilenames parses a camera data.csv into a series of nanosecond
// timestamp to image filename. Lines starting with '#' are comments.
func ReadImageFilenames(path string) (map[int64]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening image listing")
	}
	defer file.Close()

	filenames := map[int64]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad timestamp %q in %s", parts[0], path)
		}
		filenames[ts] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading image listing")
	}
	return filenames, nil
}

// ReadTrajectory parses the ground-truth state estimate data.csv into a
// series of nanosecond timestamp to pose, re-expressed relative to the first
// pose in the file.
func ReadTrajectory(path string) (map[int64]*spatialmath.Pose, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening trajectory")
	}
	defer file.Close()

	trajectory := map[int64]*spatialmath.Pose{}
	var firstPose *spatialmath.Pose
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 8 {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad timestamp %q in %s", parts[0], path)
		}
		values := make([]float64, 7)
		for i, part := range parts[1:8] {
			values[i], err = strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad trajectory value %q in %s", part, path)
			}
		}
		// columns are: timestamp, tx ty tz, qw qx qy qz
		pose := makeCameraPose(values[0], values[1], values[2], values[3], values[4], values[5], values[6])
		if firstPose == nil {
			firstPose = pose
			trajectory[ts] = spatialmath.NewZeroPose()
		} else {
			trajectory[ts] = spatialmath.PoseBetween(firstPose, pose)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading trajectory")
	}
	return trajectory, nil
}

// sensorYAML is the subset of an EuRoC sensor.yaml we care about.
type sensorYAML struct {
	TBS struct {
		Rows int       `yaml:"rows"`
		Cols int       `yaml:"cols"`
		Data []float64 `yaml:"data"`
	} `yaml:"T_BS"`
	Resolution             []int     `yaml:"resolution"`
	Intrinsics             []float64 `yaml:"intrinsics"`
	DistortionCoefficients []float64 `yaml:"distortion_coefficients"`
}

// ReadCameraCalibration parses a camera sensor.yaml, returning the camera's
// pose relative to the body frame and its intrinsics.
func ReadCameraCalibration(path string) (*spatialmath.Pose, dataset.CameraIntrinsics, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dataset.CameraIntrinsics{}, errors.Wrap(err, "opening sensor calibration")
	}
	var sensor sensorYAML
	if err := yaml.Unmarshal(raw, &sensor); err != nil {
		return nil, dataset.CameraIntrinsics{}, errors.Wrapf(err, "parsing %s", path)
	}
	if len(sensor.TBS.Data) != 16 {
		return nil, dataset.CameraIntrinsics{}, errors.Errorf("T_BS in %s has %d values, want 16", path, len(sensor.TBS.Data))
	}
	if len(sensor.Resolution) != 2 || len(sensor.Intrinsics) != 4 {
		return nil, dataset.CameraIntrinsics{}, errors.Errorf("incomplete camera model in %s", path)
	}

	d := sensor.TBS.Data
	extrinsics := spatialmath.NewPose(
		r3.Vector{X: d[3], Y: d[7], Z: d[11]},
		spatialmath.QuatFromRotationMatrix([9]float64{
			d[0], d[1], d[2],
			d[4], d[5], d[6],
			d[8], d[9], d[10],
		}),
	)

	intrinsics := dataset.CameraIntrinsics{
		Width:  sensor.Resolution[0],
		Height: sensor.Resolution[1],
		Fx:     sensor.Intrinsics[0],
		Fy:     sensor.Intrinsics[1],
		Cx:     sensor.Intrinsics[2],
		Cy:     sensor.Intrinsics[3],
	}
	if len(sensor.DistortionCoefficients) >= 4 {
		intrinsics.K1 = sensor.DistortionCoefficients[0]
		intrinsics.K2 = sensor.DistortionCoefficients[1]
		intrinsics.P1 = sensor.DistortionCoefficients[2]
		intrinsics.P2 = sensor.DistortionCoefficients[3]
	}
	return extrinsics, intrinsics, nil
}

// ImportDataset loads an EuRoC sequence from rootFolder (the extracted mav0
// directory) into an aligned stereo Sequence. The left camera clock is the
// reference; timestamps are re-zeroed to the first associated frame and
// scaled to seconds.
func ImportDataset(rootFolder, name string) (*dataset.Sequence, error) {
	info, err := os.Stat(rootFolder)
	if err != nil || !info.IsDir() {
		return nil, errors.Errorf("%q is not a directory", rootFolder)
	}

	leftListing := filepath.Join(rootFolder, "cam0", "data.csv")
	leftCalibration := filepath.Join(rootFolder, "cam0", "sensor.yaml")
	rightListing := filepath.Join(rootFolder, "cam1", "data.csv")
	trajectoryPath := filepath.Join(rootFolder, "state_groundtruth_estimate0", "data.csv")

	leftFiles, err := ReadImageFilenames(leftListing)
	if err != nil {
		return nil, err
	}
	rightFiles, err := ReadImageFilenames(rightListing)
	if err != nil {
		return nil, err
	}
	leftExtrinsics, leftIntrinsics, err := ReadCameraCalibration(leftCalibration)
	if err != nil {
		return nil, err
	}
	trajectory, err := ReadTrajectory(trajectoryPath)
	if err != nil {
		return nil, err
	}

	leftSeries := associate.Series[int64]{}
	for ts, file := range leftFiles {
		leftSeries[ts] = file
	}
	rightSeries := associate.Series[int64]{}
	for ts, file := range rightFiles {
		rightSeries[ts] = file
	}
	poseSeries := associate.Series[int64]{}
	for ts, pose := range trajectory {
		poseSeries[ts] = pose
	}

	// trajectory last: the state estimate runs much faster than the cameras
	rows := associate.Associate(leftSeries, []associate.Series[int64]{rightSeries, poseSeries}, maxDifference)
	if len(rows) == 0 {
		return nil, errors.Errorf("no frames could be associated in %q", rootFolder)
	}

	frames := make([]dataset.TimedFrame, 0, len(rows))
	firstTimestamp := rows[0].Timestamp
	for _, row := range rows {
		bodyPose := row.Values[2].(*spatialmath.Pose)
		frames = append(frames, dataset.TimedFrame{
			Timestamp: float64(row.Timestamp-firstTimestamp) / 1e9,
			ImageFile: filepath.Join(rootFolder, "cam0", "data", row.Values[0].(string)),
			RightFile: filepath.Join(rootFolder, "cam1", "data", row.Values[1].(string)),
			// ground truth tracks the body frame; move it to the left camera
			Pose: spatialmath.Compose(bodyPose, leftExtrinsics),
		})
	}

	return &dataset.Sequence{
		Dataset:      "EuRoC MAV",
		Name:         name,
		SequenceType: trial.SequenceSequential,
		Frames:       frames,
		Intrinsics:   leftIntrinsics,
		Environment:  dataset.EnvironmentIndoorClose,
		FrameTime:    frameTime,
	}, nil
}
