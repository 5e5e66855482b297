// Package frameerror scores a trial's estimates against ground truth: it
// decomposes per-frame pose differences into translation and rotation errors,
// rolls lost/recovered tracking spans into summary series, and serves
// aggregate statistics over those series on demand.
package frameerror

import (
	"math"

	"go.viam.com/slambench/spatialmath"
)

// PoseError is the decomposed difference between an estimated and a reference
// pose. Translation error is carried both in cartesian form (X, Y, Z) and
// polar form (Length, Direction); Rot is the minimal angle between the two
// orientations. Immutable once computed.
//
// Direction is the angle between the error vector and the reference location
// vector; it is NaN when either has zero length, since no direction exists.
type PoseError struct {
	X         float64
	Y         float64
	Z         float64
	Length    float64
	Direction float64
	Rot       float64
}

// MakePoseError measures estimate against reference.
func MakePoseError(estimate, reference *spatialmath.Pose) PoseError {
	trans := estimate.Point().Sub(reference.Point())
	length := trans.Norm()

	direction := math.NaN()
	if length > 0 {
		if refNorm := reference.Point().Norm(); refNorm > 0 {
			dot := trans.Mul(1 / length).Dot(reference.Point().Mul(1 / refNorm))
			// clamped to [0, 1]: opposing directions saturate at a right
			// angle, and overshoot past 1 cannot escape the acos domain
			direction = math.Acos(math.Min(1, math.Max(0, dot)))
		}
	}

	return PoseError{
		X:         trans.X,
		Y:         trans.Y,
		Z:         trans.Z,
		Length:    length,
		Direction: direction,
		Rot:       spatialmath.AngleBetween(estimate.Orientation(), reference.Orientation()),
	}
}
