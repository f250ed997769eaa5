// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/spacecal/internal/transform"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// AssertVecNear fails if any component of got differs from want by more
// than tol.
func AssertVecNear(t *testing.T, got, want transform.Vec3, tol float64) {
	t.Helper()
	if math.Abs(got.X-want.X) > tol || math.Abs(got.Y-want.Y) > tol || math.Abs(got.Z-want.Z) > tol {
		t.Errorf("vector = %v, want %v (tol %g)", got, want, tol)
	}
}

// AssertTransformNear fails if the origin distance or rotation angle
// between got and want exceeds posTol metres or angTol radians.
func AssertTransformNear(t *testing.T, got, want transform.Transform, posTol, angTol float64) {
	t.Helper()
	diff := want.Inverse().Mul(got)
	if d := diff.Origin.Norm(); d > posTol {
		t.Errorf("origin off by %.4f m (tol %g): got %v want %v", d, posTol, got.Origin, want.Origin)
	}
	if a := diff.Basis.RotationAngle(); a > angTol {
		t.Errorf("rotation off by %.4f rad (tol %g)", a, angTol)
	}
}
