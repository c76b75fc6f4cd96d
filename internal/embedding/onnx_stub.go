//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder is unavailable without CGO; every call fails with errNoCGO.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails in builds without CGO.
func NewONNXEmbedder(_, _ string, _, _ int) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

func (e *ONNXEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, errNoCGO }
func (e *ONNXEmbedder) Model() string                                        { return "" }
func (e *ONNXEmbedder) Dimensions() int                                      { return 0 }
func (e *ONNXEmbedder) Close() error                                         { return nil }
