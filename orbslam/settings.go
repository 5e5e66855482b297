package orbslam

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	// defines if images are RGB or BGR.
	rgbFlag = 1
	// file version expected by the algorithm.
	fileVersion = "1.0"
	// OpenCV-style YAML directive the algorithm's parser requires on line one.
	yamlHeader = "%YAML:1.0\n"
)

// ORBSettings is the on-disk configuration handed to the algorithm, written
// as OpenCV-flavored YAML with dotted keys.
type ORBSettings struct {
	FileVersion    string  `yaml:"File.version"`
	NFeatures      int     `yaml:"ORBextractor.nFeatures"`
	ScaleFactor    float64 `yaml:"ORBextractor.scaleFactor"`
	NLevels        int     `yaml:"ORBextractor.nLevels"`
	IniThFAST      int     `yaml:"ORBextractor.iniThFAST"`
	MinThFAST      int     `yaml:"ORBextractor.minThFAST"`
	CamType        string  `yaml:"Camera.type"`
	Width          int     `yaml:"Camera.width"`
	Height         int     `yaml:"Camera.height"`
	Fx             float64 `yaml:"Camera1.fx"`
	Fy             float64 `yaml:"Camera1.fy"`
	Ppx            float64 `yaml:"Camera1.cx"`
	Ppy            float64 `yaml:"Camera1.cy"`
	RadialK1       float64 `yaml:"Camera1.k1"`
	RadialK2       float64 `yaml:"Camera1.k2"`
	RadialK3       float64 `yaml:"Camera1.k3"`
	TangentialP1   float64 `yaml:"Camera1.p1"`
	TangentialP2   float64 `yaml:"Camera1.p2"`
	RGBflag        int8    `yaml:"Camera.RGB"`
	FPSCamera      float64 `yaml:"Camera.fps"`
	Stereob        float64 `yaml:"Stereo.b"`
	StereoThDepth  float64 `yaml:"Stereo.ThDepth"`
	DepthMapFactor float64 `yaml:"RGBD.DepthMapFactor"`
}

// settings builds the YAML document from the system's camera calibration and
// configured algorithm parameters.
func (s *System) settings() (*ORBSettings, error) {
	if !s.intrinsics.Valid() {
		return nil, errors.New("camera intrinsics must be set before a trial can start")
	}
	if s.frameTime <= 0 {
		return nil, errors.New("camera frame time must be set before a trial can start")
	}
	if s.cfg.Mode == Stereo && s.cfg.StereoBaseline <= 0 {
		return nil, errors.New("stereo mode requires a positive camera baseline")
	}
	return &ORBSettings{
		FileVersion:    fileVersion,
		NFeatures:      s.cfg.OrbNumFeatures,
		ScaleFactor:    s.cfg.OrbScaleFactor,
		NLevels:        s.cfg.OrbNumLevels,
		IniThFAST:      s.cfg.OrbIniThresholdFAST,
		MinThFAST:      s.cfg.OrbMinThresholdFAST,
		CamType:        "PinHole",
		Width:          s.intrinsics.Width,
		Height:         s.intrinsics.Height,
		Fx:             s.intrinsics.Fx,
		Fy:             s.intrinsics.Fy,
		Ppx:            s.intrinsics.Cx,
		Ppy:            s.intrinsics.Cy,
		RadialK1:       s.intrinsics.K1,
		RadialK2:       s.intrinsics.K2,
		RadialK3:       s.intrinsics.K3,
		TangentialP1:   s.intrinsics.P1,
		TangentialP2:   s.intrinsics.P2,
		RGBflag:        rgbFlag,
		FPSCamera:      1 / s.frameTime,
		Stereob:        s.cfg.StereoBaseline,
		StereoThDepth:  s.cfg.DepthThreshold,
		DepthMapFactor: s.cfg.DepthMapFactor,
	}, nil
}

// writeSettings persists the settings to a uniquely-named scratch file. The
// name mixes the system's identity with a fresh UUID so trials for the same
// algorithm running in parallel processes never collide. The caller owns
// removing the file on every exit path.
func (s *System) writeSettings() (string, error) {
	conf, err := s.settings()
	if err != nil {
		return "", err
	}
	name := filepath.Join(s.cfg.ScratchDir, "orbslam_"+s.cfg.ID+"_"+uuid.NewString()+".yaml")
	//nolint:gosec
	outfile, err := os.Create(name)
	if err != nil {
		return "", errors.Wrap(err, "error creating settings file")
	}
	if err := writeSettingsTo(outfile, conf); err != nil {
		return "", discardScratch(name, multierr.Combine(err, outfile.Close()))
	}
	if err := outfile.Close(); err != nil {
		return "", discardScratch(name, err)
	}
	s.lastConf = conf
	return name, nil
}

// writeSettingsTo emits the YAML document, directive line first.
func writeSettingsTo(w io.Writer, conf *ORBSettings) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return errors.Wrap(err, "error marshaling algorithm settings")
	}
	if _, err := io.WriteString(w, yamlHeader); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// discardScratch removes a partially written scratch artifact so a failed
// write leaves nothing behind, folding any removal failure into cause.
func discardScratch(name string, cause error) error {
	if removeErr := os.Remove(name); removeErr != nil && !os.IsNotExist(removeErr) {
		return multierr.Combine(cause, removeErr)
	}
	return cause
}
