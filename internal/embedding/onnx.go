//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/bunsho/pkg/utils"
)

// ONNXEmbedder runs a sentence-embedding model through ONNX Runtime. The model
// must take input_ids, attention_mask and token_type_ids of shape
// [1, maxTokens] and produce "output" of shape [1, dimensions]. It needs CGO
// and the onnxruntime shared library.
type ONNXEmbedder struct {
	model      string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer

	mu      sync.Mutex // guards the session and its bound tensors
	session *ort.AdvancedSession
	inputs  [3]*ort.Tensor[int64]
	output  *ort.Tensor[float32]
}

// NewONNXEmbedder loads the model at modelPath. model names the vectors in
// storage and defaults to the model file name without extension.
func NewONNXEmbedder(model, modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx model path is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("onnx embedder needs a positive dimension")
	}
	if model == "" {
		model = strings.TrimSuffix(filepath.Base(modelPath), filepath.Ext(modelPath))
	}
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	e := &ONNXEmbedder{
		model:      model,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  &SimpleTokenizer{},
	}
	shape := ort.NewShape(1, int64(maxTokens))
	for i, name := range onnxInputNames {
		t, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			_ = e.Close()
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		e.inputs[i] = t
	}
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions)))
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	e.output = out

	session, err := ort.NewAdvancedSession(modelPath,
		onnxInputNames[:], []string{"output"},
		[]ort.ArbitraryTensor{e.inputs[0], e.inputs[1], e.inputs[2]},
		[]ort.ArbitraryTensor{e.output},
		nil,
	)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	e.session = session
	return e, nil
}

var onnxInputNames = [3]string{"input_ids", "attention_mask", "token_type_ids"}

func (e *ONNXEmbedder) embedText(text string) ([]float32, error) {
	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.inputs[0].GetData(), ids)
	copy(e.inputs[1].GetData(), mask)
	copy(e.inputs[2].GetData(), types)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	vec := make([]float32, e.dimensions)
	copy(vec, e.output.GetData())
	utils.NormalizeL2(vec)
	return vec, nil
}

// Embed runs the model once per text. The session holds a single input row,
// so texts are processed one after another.
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.embedText(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Model returns the model name.
func (e *ONNXEmbedder) Model() string { return e.model }

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// Close destroys the session and its tensors. It is safe on a partially
// constructed embedder.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for i, t := range e.inputs {
		if t != nil {
			_ = t.Destroy()
			e.inputs[i] = nil
		}
	}
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
