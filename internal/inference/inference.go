// Package inference hosts the native runtimes that execute the digit model.
package inference

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Brownie44l1/digit-api/internal/model"
)

const (
	BackendONNX   = "onnx"
	BackendTFLite = "tflite"
)

var ErrBackendUnavailable = errors.New("inference backend is not available in this build")

type Options struct {
	Backend           string
	SharedLibraryPath string
	// NumThreads of zero keeps the runtime default.
	NumThreads     int
	UseAccelerator bool
}

// New builds the engine selected by opts.Backend.
func New(data []byte, meta model.Metadata, opts Options, log zerolog.Logger) (model.Engine, error) {
	var (
		engine model.Engine
		err    error
	)
	switch strings.ToLower(opts.Backend) {
	case "", BackendONNX:
		var e *ONNX
		if e, err = NewONNX(data, meta, opts, log); err == nil {
			engine = e
		}
	case BackendTFLite:
		var e *TFLite
		if e, err = NewTFLite(data, meta, opts, log); err == nil {
			engine = e
		}
	default:
		err = fmt.Errorf("unknown inference backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// Factory binds opts so the classifier loader can build the engine once the
// asset is read.
func Factory(opts Options, log zerolog.Logger) model.EngineFactory {
	return func(data []byte, meta model.Metadata) (model.Engine, error) {
		return New(data, meta, opts, log)
	}
}

func elements(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

// compatible reports whether a declared runtime shape can hold want elements.
// Dynamic dimensions (<= 0) match anything.
func compatible(declared []int64, want int) bool {
	n := 1
	for _, d := range declared {
		if d <= 0 {
			return true
		}
		n *= int(d)
	}
	return n == want
}
