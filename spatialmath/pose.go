// Package spatialmath defines the rigid transform math used throughout the benchmark:
// poses in a fixed world frame, relative motions between them, and the quaternion
// helpers needed to compare orientations.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform in a fixed world frame: a location plus a unit
// quaternion orientation. Poses are immutable once constructed.
type Pose struct {
	location    r3.Vector
	orientation quat.Number
}

// NewZeroPose returns the identity pose, located at the origin with no rotation.
func NewZeroPose() *Pose {
	return &Pose{orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose at the given location with the given orientation.
// The orientation is normalized to a unit quaternion.
func NewPose(location r3.Vector, orientation quat.Number) *Pose {
	return &Pose{location: location, orientation: Normalize(orientation)}
}

// NewPoseFromPoint returns a pose at the given location with no rotation.
func NewPoseFromPoint(location r3.Vector) *Pose {
	return &Pose{location: location, orientation: quat.Number{Real: 1}}
}

// Point returns the location of the pose.
func (p *Pose) Point() r3.Vector {
	return p.location
}

// Orientation returns the orientation of the pose as a unit quaternion.
func (p *Pose) Orientation() quat.Number {
	return p.orientation
}

// Compose applies the transform b within the frame of a, i.e. the pose of an
// object at b as seen from the frame described by a.
func Compose(a, b *Pose) *Pose {
	return &Pose{
		location:    a.location.Add(RotateVector(a.orientation, b.location)),
		orientation: Normalize(quat.Mul(a.orientation, b.orientation)),
	}
}

// Invert returns the inverse transform, such that Compose(p, Invert(p)) is
// the identity.
func Invert(p *Pose) *Pose {
	inv := quat.Conj(p.orientation)
	return &Pose{
		location:    RotateVector(inv, p.location.Mul(-1)),
		orientation: inv,
	}
}

// PoseBetween returns the pose of b relative to a, i.e. the transform that,
// composed onto a, yields b. Used both to re-zero trajectories against their
// first pose and to extract frame-to-frame motion.
func PoseBetween(a, b *Pose) *Pose {
	return Compose(Invert(a), b)
}

// PoseAlmostEqual returns whether two poses are within 1e-8 in location and
// 1e-8 in orientation of each other.
func PoseAlmostEqual(a, b *Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps returns whether two poses are within epsilon of each other
// in both location and orientation.
func PoseAlmostEqualEps(a, b *Pose, epsilon float64) bool {
	return a.location.Sub(b.location).Norm() <= epsilon &&
		QuaternionAlmostEqual(a.orientation, b.orientation, epsilon)
}

// RotateVector rotates a vector by the given quaternion.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// Normalize returns the unit quaternion in the direction of q. The zero
// quaternion normalizes to the identity rotation.
func Normalize(q quat.Number) quat.Number {
	length := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if length == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Number{Real: q.Real / length, Imag: q.Imag / length, Jmag: q.Jmag / length, Kmag: q.Kmag / length}
}

// QuaternionAlmostEqual checks two quaternions for approximate equality,
// treating q and -q as the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, epsilon float64) bool {
	if a.Real*b.Real+a.Imag*b.Imag+a.Jmag*b.Jmag+a.Kmag*b.Kmag < 0 {
		b = quat.Number{Real: -b.Real, Imag: -b.Imag, Jmag: -b.Jmag, Kmag: -b.Kmag}
	}
	diff := quat.Sub(a, b)
	return math.Sqrt(diff.Real*diff.Real+diff.Imag*diff.Imag+diff.Jmag*diff.Jmag+diff.Kmag*diff.Kmag) <= epsilon
}

// AngleBetween returns the minimal rotation angle, in radians, taking one
// orientation to the other. The result is always in [0, pi].
func AngleBetween(a, b quat.Number) float64 {
	diff := quat.Mul(a, quat.Conj(b))
	w := math.Abs(diff.Real)
	// clamp against floating point overshoot before acos
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// QuatFromRotationMatrix converts a row-major 3x3 rotation matrix to a unit
// quaternion, using the largest diagonal component for numeric stability.
func QuatFromRotationMatrix(m [9]float64) quat.Number {
	var q quat.Number
	trace := m[0] + m[4] + m[8]
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1.0)
		q = quat.Number{
			Real: 0.25 / s,
			Imag: (m[7] - m[5]) * s,
			Jmag: (m[2] - m[6]) * s,
			Kmag: (m[3] - m[1]) * s,
		}
	case m[0] > m[4] && m[0] > m[8]:
		s := 2.0 * math.Sqrt(1.0+m[0]-m[4]-m[8])
		q = quat.Number{
			Real: (m[7] - m[5]) / s,
			Imag: 0.25 * s,
			Jmag: (m[1] + m[3]) / s,
			Kmag: (m[2] + m[6]) / s,
		}
	case m[4] > m[8]:
		s := 2.0 * math.Sqrt(1.0+m[4]-m[0]-m[8])
		q = quat.Number{
			Real: (m[2] - m[6]) / s,
			Imag: (m[1] + m[3]) / s,
			Jmag: 0.25 * s,
			Kmag: (m[5] + m[7]) / s,
		}
	default:
		s := 2.0 * math.Sqrt(1.0+m[8]-m[0]-m[4])
		q = quat.Number{
			Real: (m[3] - m[1]) / s,
			Imag: (m[2] + m[6]) / s,
			Jmag: (m[5] + m[7]) / s,
			Kmag: 0.25 * s,
		}
	}
	return Normalize(q)
}

// RotationMatrixFromQuat converts a unit quaternion to a row-major 3x3
// rotation matrix.
func RotationMatrixFromQuat(q quat.Number) [9]float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}
