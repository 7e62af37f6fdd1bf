// Package modeltest provides an in-memory engine for tests that must not
// depend on a native inference runtime.
package modeltest

import (
	"sync"

	"github.com/Brownie44l1/digit-api/internal/model"
)

// Engine calls Fn for every forward pass and records the inputs it saw.
type Engine struct {
	Fn func(input []float32) ([]float32, error)

	mu     sync.Mutex
	inputs [][]float32
	closed bool
}

// Scores returns an engine that always answers with the given scores.
func Scores(scores ...float32) *Engine {
	return &Engine{Fn: func([]float32) ([]float32, error) {
		return append([]float32(nil), scores...), nil
	}}
}

// Ink returns an engine whose score for class i is the summed input intensity
// times weights[i]. A blank input therefore scores zero everywhere.
func Ink(weights ...float32) *Engine {
	return &Engine{Fn: func(input []float32) ([]float32, error) {
		var sum float32
		for _, v := range input {
			sum += v
		}
		out := make([]float32, len(weights))
		for i, w := range weights {
			out[i] = sum * w
		}
		return out, nil
	}}
}

func (e *Engine) Run(input []float32) ([]float32, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, append([]float32(nil), input...))
	e.mu.Unlock()
	return e.Fn(input)
}

func (e *Engine) Info() model.EngineInfo {
	return model.EngineInfo{Backend: "fake"}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Inputs returns copies of every tensor passed to Run.
func (e *Engine) Inputs() [][]float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]float32(nil), e.inputs...)
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Factory adapts e to model.EngineFactory.
func (e *Engine) Factory() model.EngineFactory {
	return func([]byte, model.Metadata) (model.Engine, error) {
		return e, nil
	}
}
