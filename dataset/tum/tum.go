// Package tum imports sequences from the TUM RGB-D benchmark. A sequence
// directory holds rgb.txt, depth.txt and groundtruth.txt, each a
// space-separated timestamp-keyed listing on its own clock; the three are
// merged by timestamp association into a single aligned frame list.
package tum

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/slambench/associate"
	"go.viam.com/slambench/dataset"
	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

// maxDifference is the association tolerance between the rgb, depth and
// ground-truth clocks, in seconds.
const maxDifference = 1.0

// frameTime is the nominal frame interval; TUM sequences are captured at
// 30Hz.
const frameTime = 1.0 / 30.0

// Variant identifies which Freiburg camera a sequence was captured with.
// Calibration differs per camera, so the variant is resolved once from the
// sequence path at import time.
type Variant int

// The three Freiburg cameras, plus a fallback using the ROS default
// calibration.
const (
	VariantDefault Variant = iota
	VariantFreiburg1
	VariantFreiburg2
	VariantFreiburg3
)

func (v Variant) String() string {
	switch v {
	case VariantFreiburg1:
		return "freiburg1"
	case VariantFreiburg2:
		return "freiburg2"
	case VariantFreiburg3:
		return "freiburg3"
	}
	return "default"
}

// VariantOfPath resolves the capture variant from a sequence directory path.
func VariantOfPath(path string) Variant {
	lowered := strings.ToLower(path)
	switch {
	case strings.Contains(lowered, "freiburg1"):
		return VariantFreiburg1
	case strings.Contains(lowered, "freiburg2"):
		return VariantFreiburg2
	case strings.Contains(lowered, "freiburg3"):
		return VariantFreiburg3
	}
	return VariantDefault
}

// Intrinsics returns the published calibration for the variant's camera.
func (v Variant) Intrinsics() dataset.CameraIntrinsics {
	switch v {
	case VariantFreiburg1:
		return dataset.CameraIntrinsics{
			Width: 640, Height: 480,
			Fx: 517.3, Fy: 516.5, Cx: 318.6, Cy: 255.3,
			K1: 0.2624, K2: -0.9531, K3: 1.1633, P1: -0.0054, P2: 0.0026,
		}
	case VariantFreiburg2:
		return dataset.CameraIntrinsics{
			Width: 640, Height: 480,
			Fx: 580.8, Fy: 581.8, Cx: 308.8, Cy: 253.0,
			K1: -0.2297, K2: 1.4766, K3: -3.4194, P1: 0.0005, P2: -0.0075,
		}
	case VariantFreiburg3:
		return dataset.CameraIntrinsics{
			Width: 640, Height: 480,
			Fx: 535.4, Fy: 539.2, Cx: 320.1, Cy: 247.6,
		}
	}
	// ROS default parameters for the Kinect
	return dataset.CameraIntrinsics{
		Width: 640, Height: 480,
		Fx: 525.0, Fy: 525.0, Cx: 319.5, Cy: 239.5,
	}
}

// environments classifies the sequences we have looked at by hand; anything
// unlisted defaults to close-quarters indoor, which is what most of the
// benchmark is.
var environments = map[string]dataset.EnvironmentType{
	"rgbd_dataset_freiburg1_360":                   dataset.EnvironmentIndoorClose,
	"rgbd_dataset_freiburg1_desk":                  dataset.EnvironmentIndoorClose,
	"rgbd_dataset_freiburg2_dishes":                dataset.EnvironmentIndoor,
	"rgbd_dataset_freiburg3_structure_texture_far": dataset.EnvironmentIndoor,
}

// EnvironmentOf returns the environment classification for a named sequence.
func EnvironmentOf(name string) dataset.EnvironmentType {
	if env, ok := environments[name]; ok {
		return env
	}
	return dataset.EnvironmentIndoorClose
}

// sequenceNames is the published catalog of benchmark sequences, used to
// discover downloaded sequence directories by name.
var sequenceNames = map[string]bool{
	"rgbd_dataset_freiburg1_xyz":                                 true,
	"rgbd_dataset_freiburg1_rpy":                                 true,
	"rgbd_dataset_freiburg2_xyz":                                 true,
	"rgbd_dataset_freiburg2_rpy":                                 true,
	"rgbd_dataset_freiburg1_360":                                 true,
	"rgbd_dataset_freiburg1_floor":                               true,
	"rgbd_dataset_freiburg1_desk":                                true,
	"rgbd_dataset_freiburg1_desk2":                               true,
	"rgbd_dataset_freiburg1_room":                                true,
	"rgbd_dataset_freiburg2_360_hemisphere":                      true,
	"rgbd_dataset_freiburg2_360_kidnap":                          true,
	"rgbd_dataset_freiburg2_desk":                                true,
	"rgbd_dataset_freiburg2_large_no_loop":                       true,
	"rgbd_dataset_freiburg2_large_with_loop":                     true,
	"rgbd_dataset_freiburg3_long_office_household":               true,
	"rgbd_dataset_freiburg2_pioneer_360":                         true,
	"rgbd_dataset_freiburg2_pioneer_slam":                        true,
	"rgbd_dataset_freiburg2_pioneer_slam2":                       true,
	"rgbd_dataset_freiburg2_pioneer_slam3":                       true,
	"rgbd_dataset_freiburg3_nostructure_notexture_far":           true,
	"rgbd_dataset_freiburg3_nostructure_notexture_near_withloop": true,
	"rgbd_dataset_freiburg3_nostructure_texture_far":             true,
	"rgbd_dataset_freiburg3_nostructure_texture_near_withloop":   true,
	"rgbd_dataset_freiburg3_structure_notexture_far":             true,
	"rgbd_dataset_freiburg3_structure_notexture_near":            true,
	"rgbd_dataset_freiburg3_structure_texture_far":               true,
	"rgbd_dataset_freiburg3_structure_texture_near":              true,
	"rgbd_dataset_freiburg2_desk_with_person":                    true,
	"rgbd_dataset_freiburg3_sitting_static":                      true,
	"rgbd_dataset_freiburg3_sitting_xyz":                         true,
	"rgbd_dataset_freiburg3_sitting_halfsphere":                  true,
	"rgbd_dataset_freiburg3_sitting_rpy":                         true,
	"rgbd_dataset_freiburg3_walking_static":                      true,
	"rgbd_dataset_freiburg3_walking_xyz":                         true,
	"rgbd_dataset_freiburg3_walking_halfsphere":                  true,
	"rgbd_dataset_freiburg3_walking_rpy":                         true,
	"rgbd_dataset_freiburg1_plant":                               true,
	"rgbd_dataset_freiburg1_teddy":                               true,
	"rgbd_dataset_freiburg2_coke":                                true,
	"rgbd_dataset_freiburg2_dishes":                              true,
	"rgbd_dataset_freiburg2_flowerbouquet":                       true,
	"rgbd_dataset_freiburg2_flowerbouquet_brownbackground":       true,
	"rgbd_dataset_freiburg2_metallic_sphere":                     true,
	"rgbd_dataset_freiburg2_metallic_sphere2":                    true,
	"rgbd_dataset_freiburg3_cabinet":                             true,
	"rgbd_dataset_freiburg3_large_cabinet":                       true,
	"rgbd_dataset_freiburg3_teddy":                               true,
}

// KnownSequence reports whether name is in the published sequence catalog.
func KnownSequence(name string) bool {
	return sequenceNames[name]
}

// FindRoots recursively searches under root for directories named after
// catalog sequences, resolving each to its actual sequence directory. A
// catalog directory is never searched within; candidates missing their
// listing files are skipped rather than failing the whole search.
func FindRoots(root string) (map[string]string, error) {
	roots := map[string]string{}
	toSearch := []string{root}
	for len(toSearch) > 0 {
		candidate := toSearch[0]
		toSearch = toSearch[1:]

		entries, err := os.ReadDir(candidate)
		if err != nil {
			return nil, errors.Wrapf(err, "searching %s", candidate)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(candidate, entry.Name())
			if sequenceNames[entry.Name()] {
				actual, _, _, _, findErr := FindFiles(path)
				if findErr != nil {
					continue
				}
				roots[entry.Name()] = actual
			} else {
				toSearch = append(toSearch, path)
			}
		}
	}
	return roots, nil
}

// makeCameraPose converts a TUM ground-truth pose into our coordinate
// convention. TUM uses z forward, y right, x down; we use x forward, y left,
// z up. Both are right-handed so the remap is a pure axis permutation.
func makeCameraPose(tx, ty, tz, qw, qx, qy, qz float64) *spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: tz, Y: -tx, Z: -ty},
		quat.Number{Real: qw, Imag: qz, Jmag: -qx, Kmag: -qy},
	)
}

// ReadImageFilenames parses an rgb.txt or depth.txt listing into a series of
// timestamp to relative image path. '#' starts a comment anywhere on a line.
func ReadImageFilenames(path string) (map[float64]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening image listing")
	}
	defer file.Close()

	filenames := map[float64]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(stripComment(scanner.Text()))
		if len(fields) < 2 {
			continue
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad timestamp %q in %s", fields[0], path)
		}
		filenames[ts] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading image listing")
	}
	return filenames, nil
}

// ReadTrajectory parses groundtruth.txt into a series of timestamp to camera
// pose. Poses are re-expressed relative to the first pose in the file, which
// becomes the origin.
func ReadTrajectory(path string) (map[float64]*spatialmath.Pose, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening trajectory")
	}
	defer file.Close()

	trajectory := map[float64]*spatialmath.Pose{}
	var firstPose *spatialmath.Pose
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(stripComment(scanner.Text()))
		if len(fields) < 8 {
			continue
		}
		values := make([]float64, 8)
		for i, field := range fields[:8] {
			values[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bad trajectory value %q in %s", field, path)
			}
		}
		// groundtruth.txt columns are: timestamp tx ty tz qx qy qz qw
		pose := makeCameraPose(values[1], values[2], values[3], values[7], values[4], values[5], values[6])
		if firstPose == nil {
			firstPose = pose
			trajectory[values[0]] = spatialmath.NewZeroPose()
		} else {
			trajectory[values[0]] = spatialmath.PoseBetween(firstPose, pose)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading trajectory")
	}
	return trajectory, nil
}

func stripComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}

// FindFiles searches under baseRoot for the actual sequence directory, which
// must contain rgb.txt, depth.txt and groundtruth.txt. Downloaded archives
// often nest the sequence a level or two deep.
func FindFiles(baseRoot string) (root, rgbPath, depthPath, trajectoryPath string, err error) {
	excluded := map[string]bool{"depth": true, "rgb": true, "__MACOSX": true}
	toSearch := []string{baseRoot}
	for len(toSearch) > 0 {
		candidate := toSearch[0]
		toSearch = toSearch[1:]

		rgbPath = filepath.Join(candidate, "rgb.txt")
		depthPath = filepath.Join(candidate, "depth.txt")
		trajectoryPath = filepath.Join(candidate, "groundtruth.txt")
		if isFile(rgbPath) && isFile(depthPath) && isFile(trajectoryPath) {
			return candidate, rgbPath, depthPath, trajectoryPath, nil
		}

		entries, readErr := os.ReadDir(candidate)
		if readErr != nil {
			return "", "", "", "", errors.Wrapf(readErr, "searching %s", candidate)
		}
		for _, entry := range entries {
			if entry.IsDir() && !excluded[entry.Name()] {
				toSearch = append(toSearch, filepath.Join(candidate, entry.Name()))
			}
		}
	}
	return "", "", "", "", errors.Errorf("no sequence directory found within %q", baseRoot)
}

// ImportDataset loads a TUM RGB-D sequence rooted somewhere under rootFolder
// into an aligned Sequence. Frame timestamps are re-zeroed to the first
// associated frame; image and depth paths stay relative to the sequence root.
func ImportDataset(rootFolder, name string) (*dataset.Sequence, error) {
	info, err := os.Stat(rootFolder)
	if err != nil || !info.IsDir() {
		return nil, errors.Errorf("%q is not a directory", rootFolder)
	}

	root, rgbPath, depthPath, trajectoryPath, err := FindFiles(rootFolder)
	if err != nil {
		return nil, err
	}

	imageFiles, err := ReadImageFilenames(rgbPath)
	if err != nil {
		return nil, err
	}
	depthFiles, err := ReadImageFilenames(depthPath)
	if err != nil {
		return nil, err
	}
	trajectory, err := ReadTrajectory(trajectoryPath)
	if err != nil {
		return nil, err
	}

	imageSeries := associate.Series[float64]{}
	for ts, file := range imageFiles {
		imageSeries[ts] = file
	}
	poseSeries := associate.Series[float64]{}
	for ts, pose := range trajectory {
		poseSeries[ts] = pose
	}
	depthSeries := associate.Series[float64]{}
	for ts, file := range depthFiles {
		depthSeries[ts] = file
	}

	rows := associate.Associate(imageSeries, []associate.Series[float64]{poseSeries, depthSeries}, maxDifference)
	if len(rows) == 0 {
		return nil, errors.Errorf("no frames could be associated in %q", root)
	}

	variant := VariantOfPath(root)
	frames := make([]dataset.TimedFrame, 0, len(rows))
	firstTimestamp := rows[0].Timestamp
	for _, row := range rows {
		frames = append(frames, dataset.TimedFrame{
			Timestamp: row.Timestamp - firstTimestamp,
			ImageFile: filepath.Join(root, row.Values[0].(string)),
			Pose:      row.Values[1].(*spatialmath.Pose),
			DepthFile: filepath.Join(root, row.Values[2].(string)),
		})
	}

	return &dataset.Sequence{
		Dataset:      "TUM RGB-D",
		Name:         name,
		SequenceType: trial.SequenceSequential,
		Frames:       frames,
		Intrinsics:   variant.Intrinsics(),
		Environment:  EnvironmentOf(name),
		FrameTime:    frameTime,
	}, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
