package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"time"

	"github.com/rs/zerolog"

	"github.com/Brownie44l1/digit-api/internal/imaging"
)

var (
	ErrNotLoaded  = errors.New("classifier is not loaded")
	ErrInputSize  = errors.New("input tensor has wrong size")
	ErrOutputSize = errors.New("output tensor has wrong size")
)

// Engine runs one forward pass of a loaded model.
type Engine interface {
	Run(input []float32) ([]float32, error)
	Info() EngineInfo
	Close() error
}

type EngineInfo struct {
	Backend     string `json:"backend"`
	Accelerated bool   `json:"accelerated"`
	Threads     int    `json:"threads"`
	Input       string `json:"input,omitempty"`
	Output      string `json:"output,omitempty"`
}

// EngineFactory builds an engine from the raw model asset.
type EngineFactory func(data []byte, meta Metadata) (Engine, error)

// Files names the model assets inside the bundled namespace.
type Files struct {
	Model    string
	Metadata string
}

// LoadError reports a model asset that could not be turned into a working
// classifier.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type Classifier struct {
	engine   Engine
	scaler   imaging.Scaler
	log      zerolog.Logger
	Metadata Metadata
}

type Option func(*Classifier)

func WithScaler(s imaging.Scaler) Option {
	return func(c *Classifier) { c.scaler = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Classifier) { c.log = l }
}

func New(engine Engine, meta Metadata, opts ...Option) (*Classifier, error) {
	if engine == nil {
		return nil, ErrNotLoaded
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	c := &Classifier{
		engine:   engine,
		scaler:   imaging.NearestScaler{},
		log:      zerolog.Nop(),
		Metadata: meta,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Load reads the model and its optional metadata from fsys and builds the
// engine once. Every failure is reported as a *LoadError.
func Load(fsys fs.FS, files Files, newEngine EngineFactory, opts ...Option) (*Classifier, error) {
	meta := DefaultMetadata()
	if files.Metadata != "" {
		raw, err := fs.ReadFile(fsys, files.Metadata)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, &LoadError{Path: files.Metadata, Err: err}
		default:
			meta = Metadata{}
			if err := json.Unmarshal(raw, &meta); err != nil {
				return nil, &LoadError{Path: files.Metadata, Err: fmt.Errorf("failed to parse metadata: %w", err)}
			}
		}
	}
	if err := meta.Validate(); err != nil {
		return nil, &LoadError{Path: files.Metadata, Err: err}
	}

	data, err := fs.ReadFile(fsys, files.Model)
	if err != nil {
		return nil, &LoadError{Path: files.Model, Err: err}
	}
	if len(data) == 0 {
		return nil, &LoadError{Path: files.Model, Err: errors.New("model file is empty")}
	}

	engine, err := newEngine(data, meta)
	if err != nil {
		return nil, &LoadError{Path: files.Model, Err: err}
	}

	c, err := New(engine, meta, opts...)
	if err != nil {
		engine.Close()
		return nil, &LoadError{Path: files.Model, Err: err}
	}
	return c, nil
}

// Classify turns a raster of any size into a prediction.
func (c *Classifier) Classify(ctx context.Context, img image.Image) (*Result, error) {
	if c == nil || c.engine == nil {
		return nil, ErrNotLoaded
	}

	input, err := c.Preprocess(img)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	return c.Infer(ctx, input)
}

// Infer runs an already preprocessed tensor through the engine.
func (c *Classifier) Infer(ctx context.Context, input []float32) (*Result, error) {
	if c == nil || c.engine == nil {
		return nil, ErrNotLoaded
	}
	if want := c.Metadata.InputSize(); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrInputSize, want, len(input))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	scores, err := c.engine.Run(input)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(scores) != len(c.Metadata.Classes) {
		return nil, fmt.Errorf("%w: expected %d scores, got %d", ErrOutputSize, len(c.Metadata.Classes), len(scores))
	}

	result := &Result{
		Scores: append([]float32(nil), scores...),
		Labels: c.Metadata.Classes,
	}
	if p, ok := Postprocess(scores); ok {
		p.Label = c.Metadata.Classes[p.Digit]
		result.Best = &p
	}

	ev := c.log.Debug().Dur("took", time.Since(start))
	if result.Best != nil {
		ev = ev.Int("digit", result.Best.Digit).Float32("confidence", result.Best.Confidence)
	}
	ev.Msg("classified")

	return result, nil
}

func (c *Classifier) EngineInfo() EngineInfo {
	if c == nil || c.engine == nil {
		return EngineInfo{}
	}
	return c.engine.Info()
}

func (c *Classifier) Close() error {
	if c == nil || c.engine == nil {
		return nil
	}
	return c.engine.Close()
}
