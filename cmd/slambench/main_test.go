package main

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/slambench/dataset"
	"go.viam.com/slambench/orbslam"
)

func TestPickMode(t *testing.T) {
	rgbd := &dataset.Sequence{Frames: []dataset.TimedFrame{{ImageFile: "a.png", DepthFile: "a_d.png"}}}
	stereo := &dataset.Sequence{Frames: []dataset.TimedFrame{{ImageFile: "a.png", RightFile: "a_r.png"}}}
	mono := &dataset.Sequence{Frames: []dataset.TimedFrame{{ImageFile: "a.png"}}}

	mode, err := pickMode("", rgbd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, orbslam.RGBD)

	mode, err = pickMode("", stereo)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, orbslam.Stereo)

	mode, err = pickMode("", mono)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, orbslam.Monocular)

	mode, err = pickMode("mono", rgbd)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mode, test.ShouldEqual, orbslam.Monocular)

	_, err = pickMode("stereo", mono)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no right images")

	_, err = pickMode("rgbd", stereo)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = pickMode("lidar", mono)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown sensor mode")
}

func TestLoadFrame(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "a.png")
	depthPath := filepath.Join(dir, "a_d.png")
	test.That(t, os.WriteFile(imagePath, []byte("rgb"), 0o644), test.ShouldBeNil)
	test.That(t, os.WriteFile(depthPath, []byte("depth"), 0o644), test.ShouldBeNil)

	frame, err := loadFrame(dataset.TimedFrame{ImageFile: imagePath, DepthFile: depthPath})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Pixels, test.ShouldResemble, []byte("rgb"))
	test.That(t, frame.Depth, test.ShouldResemble, []byte("depth"))
	test.That(t, frame.RightPixels, test.ShouldBeNil)

	_, err = loadFrame(dataset.TimedFrame{ImageFile: filepath.Join(dir, "missing.png")})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImportSequenceByCatalogName(t *testing.T) {
	base := t.TempDir()
	for _, name := range []string{"rgbd_dataset_freiburg1_desk", "rgbd_dataset_freiburg2_dishes"} {
		root := filepath.Join(base, name)
		test.That(t, os.MkdirAll(root, 0o755), test.ShouldBeNil)
		files := map[string]string{
			"rgb.txt":         "100.00 rgb/100.00.png\n100.05 rgb/100.05.png\n",
			"depth.txt":       "100.01 depth/100.01.png\n100.06 depth/100.06.png\n",
			"groundtruth.txt": "100.00 0 0 0 0 0 0 1\n100.05 0 0 1 0 0 0 1\n",
		}
		for file, contents := range files {
			test.That(t, os.WriteFile(filepath.Join(root, file), []byte(contents), 0o644), test.ShouldBeNil)
		}
	}

	// the catalog name picks the right sequence out of a multi-sequence root
	seq, err := importSequence(Arguments{
		Format:      "tum",
		DatasetRoot: base,
		Name:        "rgbd_dataset_freiburg2_dishes",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seq.Name, test.ShouldEqual, "rgbd_dataset_freiburg2_dishes")
	test.That(t, seq.Intrinsics.Fx, test.ShouldEqual, 580.8)
	test.That(t, seq.Frames, test.ShouldHaveLength, 2)
}

func TestImportSequenceUnknownFormat(t *testing.T) {
	_, err := importSequence(Arguments{Format: "kitti"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown dataset format")
}
