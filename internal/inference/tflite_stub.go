//go:build !tflite
// +build !tflite

package inference

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Brownie44l1/digit-api/internal/model"
)

// TFLite is unavailable without the tflite build tag.
type TFLite struct{}

func NewTFLite([]byte, model.Metadata, Options, zerolog.Logger) (*TFLite, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags tflite", ErrBackendUnavailable)
}

func (e *TFLite) Run([]float32) ([]float32, error) {
	return nil, ErrBackendUnavailable
}

func (e *TFLite) Info() model.EngineInfo {
	return model.EngineInfo{Backend: BackendTFLite}
}

func (e *TFLite) Close() error {
	return nil
}
