//go:build silero

package vad

import (
	_ "embed"
)

// sileroModelData contains the Silero VAD v5 ONNX model embedded at build time.
//
// BUILD REQUIREMENT: The model file must exist at internal/vad/silero_vad.onnx
// before compiling with -tags silero. Fetch it once from the snakers4/silero-vad
// release (src/silero_vad/data/silero_vad.onnx, ~2MB) and place it here.
//
// If you see "pattern silero_vad.onnx: no matching files found" during build,
// the model file is missing.
//
//go:embed silero_vad.onnx
var sileroModelData []byte
