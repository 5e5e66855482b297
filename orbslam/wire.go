package orbslam

import (
	"go.viam.com/slambench/trial"
)

// The worker socket speaks newline-delimited JSON: the harness streams
// wireFrame objects to the worker and the worker streams wireMessage objects
// back. Image payloads ride as base64 via encoding/json's []byte handling.

type wireFrame struct {
	Timestamp float64 `json:"timestamp"`
	Pixels    []byte  `json:"pixels,omitempty"`
	Depth     []byte  `json:"depth,omitempty"`
	Right     []byte  `json:"right,omitempty"`
	// Done marks the end of the stream; no fields other than Done are set.
	Done bool `json:"done,omitempty"`
}

type wireResult struct {
	Timestamp      float64   `json:"timestamp"`
	ProcessingTime float64   `json:"processing_time"`
	NumFeatures    int       `json:"num_features"`
	NumMatches     int       `json:"num_matches"`
	Tracking       string    `json:"tracking"`
	Pose           []float64 `json:"pose,omitempty"`
}

type wireMessage struct {
	Ready   string       `json:"ready,omitempty"`
	Results []wireResult `json:"results,omitempty"`
}

func (m wireMessage) toMessage() Message {
	msg := Message{Ready: m.Ready}
	if m.Results != nil {
		msg.Results = make(map[float64]FrameOutput, len(m.Results))
		for _, res := range m.Results {
			msg.Results[res.Timestamp] = FrameOutput{
				ProcessingTime: res.ProcessingTime,
				NumFeatures:    res.NumFeatures,
				NumMatches:     res.NumMatches,
				Tracking:       trackingFromWire(res.Tracking),
				Pose:           res.Pose,
			}
		}
	}
	return msg
}

func trackingFromWire(s string) trial.TrackingState {
	switch s {
	case "ok":
		return trial.TrackingOK
	case "lost":
		return trial.TrackingLost
	default:
		return trial.TrackingNotInitialized
	}
}
