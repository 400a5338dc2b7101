// Package opencv provides gocv-backed implementations of the camera driver
// "opencv" and the face locator backend "opencv".
//
// The implementations are compiled only with the gocv build tag, which
// requires OpenCV 4 headers and libraries:
//
//	go build -tags gocv ./cmd/faceattend
//
// Without the tag the package is empty and importing it has no effect.
package opencv
