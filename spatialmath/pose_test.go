package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestCompose(t *testing.T) {
	a := NewPoseFromPoint(r3.Vector{X: 1, Y: 2, Z: 3})
	b := NewPoseFromPoint(r3.Vector{X: -4, Y: 0.5, Z: 10})
	test.That(t, Compose(a, b).Point(), test.ShouldResemble, r3.Vector{X: -3, Y: 2.5, Z: 13})

	// composing with a quarter turn about Z rotates the second location
	quarterZ := quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)}
	rot := NewPose(r3.Vector{}, quarterZ)
	moved := Compose(rot, NewPoseFromPoint(r3.Vector{X: 1}))
	test.That(t, moved.Point().X, test.ShouldAlmostEqual, 0, 1e-10)
	test.That(t, moved.Point().Y, test.ShouldAlmostEqual, 1, 1e-10)
	test.That(t, moved.Point().Z, test.ShouldAlmostEqual, 0, 1e-10)
}

func TestInvert(t *testing.T) {
	p := NewPose(
		r3.Vector{X: 2, Y: -7, Z: 0.3},
		quat.Number{Real: 0.8, Imag: 0.1, Jmag: -0.5, Kmag: 0.2},
	)
	identity := Compose(p, Invert(p))
	test.That(t, PoseAlmostEqual(identity, NewZeroPose()), test.ShouldBeTrue)
}

func TestPoseBetween(t *testing.T) {
	a := NewPose(
		r3.Vector{X: 1, Y: 1, Z: 1},
		quat.Number{Real: 0.9, Imag: 0, Jmag: 0.1, Kmag: -0.3},
	)
	b := NewPose(
		r3.Vector{X: 5, Y: -2, Z: 4},
		quat.Number{Real: 0.2, Imag: 0.5, Jmag: 0, Kmag: 0.7},
	)
	rel := PoseBetween(a, b)
	test.That(t, PoseAlmostEqual(Compose(a, rel), b), test.ShouldBeTrue)

	// a pose relative to itself is the identity
	test.That(t, PoseAlmostEqual(PoseBetween(a, a), NewZeroPose()), test.ShouldBeTrue)
}

func TestAngleBetween(t *testing.T) {
	identity := quat.Number{Real: 1}
	test.That(t, AngleBetween(identity, identity), test.ShouldAlmostEqual, 0)

	halfTurnX := quat.Number{Imag: 1}
	test.That(t, AngleBetween(identity, halfTurnX), test.ShouldAlmostEqual, math.Pi)

	third := quat.Number{Real: math.Cos(math.Pi / 6), Jmag: math.Sin(math.Pi / 6)}
	test.That(t, AngleBetween(identity, third), test.ShouldAlmostEqual, math.Pi/3, 1e-10)

	// q and -q describe the same rotation
	negated := quat.Number{Real: -third.Real, Jmag: -third.Jmag}
	test.That(t, AngleBetween(identity, negated), test.ShouldAlmostEqual, math.Pi/3, 1e-10)
}

func TestQuatRotationMatrixRoundTrip(t *testing.T) {
	for _, q := range []quat.Number{
		{Real: 1},
		{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)},
		{Real: 0.2, Imag: 0.5, Jmag: 0, Kmag: 0.7},
		{Real: 0.05, Imag: -0.9, Jmag: 0.3, Kmag: 0.1},
		{Real: 0.05, Imag: 0.1, Jmag: -0.95, Kmag: 0.1},
		{Real: 0.05, Imag: 0.1, Jmag: 0.1, Kmag: 0.95},
	} {
		q = Normalize(q)
		back := QuatFromRotationMatrix(RotationMatrixFromQuat(q))
		test.That(t, QuaternionAlmostEqual(q, back, 1e-8), test.ShouldBeTrue)
	}
}

func TestRotateVector(t *testing.T) {
	quarterZ := quat.Number{Real: math.Cos(math.Pi / 4), Kmag: math.Sin(math.Pi / 4)}
	v := RotateVector(quarterZ, r3.Vector{X: 2})
	test.That(t, v.X, test.ShouldAlmostEqual, 0, 1e-10)
	test.That(t, v.Y, test.ShouldAlmostEqual, 2, 1e-10)
	test.That(t, v.Z, test.ShouldAlmostEqual, 0, 1e-10)
}
