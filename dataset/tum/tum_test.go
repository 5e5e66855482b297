package tum

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/slambench/dataset"
	"go.viam.com/slambench/spatialmath"
	"go.viam.com/slambench/trial"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	test.That(t, os.MkdirAll(filepath.Dir(path), 0o755), test.ShouldBeNil)
	test.That(t, os.WriteFile(path, []byte(contents), 0o644), test.ShouldBeNil)
}

func TestReadImageFilenames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.txt")
	writeFile(t, path, `# color images
# file: 'rgbd_dataset_freiburg1_desk.bag'
# timestamp filename
1305031452.791720 rgb/1305031452.791720.png
1305031452.823674 rgb/1305031452.823674.png # trailing comment
not-enough-fields
`)
	filenames, err := ReadImageFilenames(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filenames, test.ShouldHaveLength, 2)
	test.That(t, filenames[1305031452.791720], test.ShouldEqual, "rgb/1305031452.791720.png")
}

func TestReadImageFilenamesBadTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.txt")
	writeFile(t, path, "abc rgb/abc.png\n")
	_, err := ReadImageFilenames(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad timestamp")
}

func TestReadTrajectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groundtruth.txt")
	// timestamp tx ty tz qx qy qz qw
	writeFile(t, path, `# ground truth trajectory
100.0 1 2 3 0 0 0 1
101.0 1 2 4 0 0 0 1
`)
	trajectory, err := ReadTrajectory(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, trajectory, test.ShouldHaveLength, 2)

	// the first pose becomes the origin
	test.That(t, spatialmath.PoseAlmostEqual(trajectory[100.0], spatialmath.NewZeroPose()), test.ShouldBeTrue)

	// the second pose moved +1 in dataset z, which maps to our +x
	second := trajectory[101.0]
	test.That(t, second.Point().X, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, second.Point().Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, second.Point().Z, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestMakeCameraPoseRemap(t *testing.T) {
	pose := makeCameraPose(10, -22.4, 13.2, 1, 0, 0, 0)
	test.That(t, pose.Point(), test.ShouldResemble, r3.Vector{X: 13.2, Y: -10, Z: 22.4})
}

func TestVariantOfPath(t *testing.T) {
	test.That(t, VariantOfPath("/data/rgbd_dataset_freiburg1_desk"), test.ShouldEqual, VariantFreiburg1)
	test.That(t, VariantOfPath("/data/rgbd_dataset_Freiburg2_dishes"), test.ShouldEqual, VariantFreiburg2)
	test.That(t, VariantOfPath("/data/rgbd_dataset_freiburg3_walking"), test.ShouldEqual, VariantFreiburg3)
	test.That(t, VariantOfPath("/data/somewhere_else"), test.ShouldEqual, VariantDefault)
}

func TestVariantIntrinsics(t *testing.T) {
	fr1 := VariantFreiburg1.Intrinsics()
	test.That(t, fr1.Fx, test.ShouldEqual, 517.3)
	test.That(t, fr1.K1, test.ShouldEqual, 0.2624)

	fr3 := VariantFreiburg3.Intrinsics()
	test.That(t, fr3.Fx, test.ShouldEqual, 535.4)
	test.That(t, fr3.K1, test.ShouldEqual, 0)

	def := VariantDefault.Intrinsics()
	test.That(t, def.Fx, test.ShouldEqual, 525.0)
	test.That(t, def.Valid(), test.ShouldBeTrue)
}

func TestFindFilesNested(t *testing.T) {
	base := t.TempDir()
	seqRoot := filepath.Join(base, "extracted", "rgbd_dataset_freiburg1_desk")
	writeFile(t, filepath.Join(seqRoot, "rgb.txt"), "")
	writeFile(t, filepath.Join(seqRoot, "depth.txt"), "")
	writeFile(t, filepath.Join(seqRoot, "groundtruth.txt"), "")
	// decoys that must not be descended into
	writeFile(t, filepath.Join(base, "__MACOSX", "junk.txt"), "")
	writeFile(t, filepath.Join(seqRoot, "rgb", "0.png"), "")

	root, rgbPath, depthPath, trajectoryPath, err := FindFiles(base)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, root, test.ShouldEqual, seqRoot)
	test.That(t, rgbPath, test.ShouldEqual, filepath.Join(seqRoot, "rgb.txt"))
	test.That(t, depthPath, test.ShouldEqual, filepath.Join(seqRoot, "depth.txt"))
	test.That(t, trajectoryPath, test.ShouldEqual, filepath.Join(seqRoot, "groundtruth.txt"))
}

func TestKnownSequence(t *testing.T) {
	test.That(t, KnownSequence("rgbd_dataset_freiburg1_desk"), test.ShouldBeTrue)
	test.That(t, KnownSequence("rgbd_dataset_freiburg3_walking_halfsphere"), test.ShouldBeTrue)
	test.That(t, KnownSequence("rgbd_dataset_freiburg4_desk"), test.ShouldBeFalse)
	test.That(t, KnownSequence(""), test.ShouldBeFalse)
}

func TestFindRoots(t *testing.T) {
	base := t.TempDir()

	// extracted archives nest the sequence inside a same-named directory
	desk := filepath.Join(base, "downloads", "rgbd_dataset_freiburg1_desk")
	deskRoot := filepath.Join(desk, "rgbd_dataset_freiburg1_desk")
	for _, listing := range []string{"rgb.txt", "depth.txt", "groundtruth.txt"} {
		writeFile(t, filepath.Join(deskRoot, listing), "")
	}
	// a catalog directory with no listings is skipped, not an error
	test.That(t, os.MkdirAll(filepath.Join(base, "rgbd_dataset_freiburg2_dishes"), 0o755), test.ShouldBeNil)
	// unrelated directories are searched but contribute nothing
	writeFile(t, filepath.Join(base, "notes", "readme.txt"), "")

	roots, err := FindRoots(base)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, roots, test.ShouldHaveLength, 1)
	test.That(t, roots["rgbd_dataset_freiburg1_desk"], test.ShouldEqual, deskRoot)
}

func TestFindFilesMissing(t *testing.T) {
	_, _, _, _, err := FindFiles(t.TempDir())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no sequence directory")
}

func TestImportDataset(t *testing.T) {
	root := filepath.Join(t.TempDir(), "rgbd_dataset_freiburg1_desk")
	writeFile(t, filepath.Join(root, "rgb.txt"), `# rgb listing
100.00 rgb/100.00.png
100.05 rgb/100.05.png
100.10 rgb/100.10.png
`)
	// depth clock is offset slightly from the rgb clock
	writeFile(t, filepath.Join(root, "depth.txt"), `# depth listing
100.01 depth/100.01.png
100.06 depth/100.06.png
100.11 depth/100.11.png
`)
	writeFile(t, filepath.Join(root, "groundtruth.txt"), `# trajectory
100.00 0 0 0 0 0 0 1
100.05 0 0 1 0 0 0 1
100.10 0 0 2 0 0 0 1
`)

	seq, err := ImportDataset(root, "rgbd_dataset_freiburg1_desk")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seq.Dataset, test.ShouldEqual, "TUM RGB-D")
	test.That(t, seq.SequenceType, test.ShouldEqual, trial.SequenceSequential)
	test.That(t, seq.Intrinsics.Fx, test.ShouldEqual, 517.3)
	test.That(t, seq.Environment, test.ShouldEqual, dataset.EnvironmentIndoorClose)
	test.That(t, seq.Frames, test.ShouldHaveLength, 3)
	test.That(t, seq.DepthAvailable(), test.ShouldBeTrue)
	test.That(t, seq.StereoAvailable(), test.ShouldBeFalse)

	// timestamps re-zeroed to the first frame
	test.That(t, seq.Frames[0].Timestamp, test.ShouldEqual, 0)
	test.That(t, seq.Frames[1].Timestamp, test.ShouldAlmostEqual, 0.05, 1e-9)

	test.That(t, seq.Frames[0].ImageFile, test.ShouldEqual, filepath.Join(root, "rgb/100.00.png"))
	test.That(t, seq.Frames[0].DepthFile, test.ShouldEqual, filepath.Join(root, "depth/100.01.png"))

	// ground truth moved +1 dataset-z per frame, which is +x for us
	test.That(t, seq.Frames[2].Pose.Point().X, test.ShouldAlmostEqual, 2, 1e-9)
	test.That(t, math.Abs(seq.Frames[2].Pose.Point().Y), test.ShouldBeLessThan, 1e-9)
}

func TestImportDatasetNotADirectory(t *testing.T) {
	_, err := ImportDataset(filepath.Join(t.TempDir(), "nope"), "x")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not a directory")
}
