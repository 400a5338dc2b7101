// Package dlib registers the go-face (dlib) face locator backend "dlib".
//
// The backend is compiled only with the dlib build tag and needs dlib,
// libjpeg and the model files fetched by "faceattend models download":
//
//	go build -tags dlib ./cmd/faceattend
package dlib
