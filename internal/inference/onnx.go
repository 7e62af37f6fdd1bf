package inference

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/digit-api/internal/model"
)

// ONNX runs the model through ONNX Runtime with tensors bound once at
// construction.
type ONNX struct {
	mu           sync.Mutex
	env          *environment
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	info         model.EngineInfo
}

// environment reference-counts the process-wide ONNX Runtime environment.
// The last engine to close tears it down.
type environment struct {
	mu      sync.Mutex
	refs    int
	init    func() error
	destroy func() error
}

var ortEnv = &environment{
	init: func() error {
		if ort.IsInitialized() {
			return nil
		}
		return ort.InitializeEnvironment()
	},
	destroy: ort.DestroyEnvironment,
}

func (v *environment) acquire() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.refs == 0 {
		if err := v.init(); err != nil {
			return err
		}
	}
	v.refs++
	return nil
}

func (v *environment) release() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.refs == 0 {
		return nil
	}
	v.refs--
	if v.refs > 0 {
		return nil
	}
	return v.destroy()
}

func NewONNX(data []byte, meta model.Metadata, opts Options, log zerolog.Logger) (*ONNX, error) {
	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := ortEnv.acquire(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	e := &ONNX{env: ortEnv}
	if err := e.load(data, meta, opts, log); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *ONNX) load(data []byte, meta model.Metadata, opts Options, log zerolog.Logger) error {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("model has %d inputs and %d outputs, want 1 and 1", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]
	if in.DataType != ort.TensorElementDataTypeFloat || out.DataType != ort.TensorElementDataTypeFloat {
		return errors.New("model tensors must be float32")
	}
	if !compatible(in.Dimensions, elements(meta.InputShape)) {
		return fmt.Errorf("model input %s %v does not match %v", in.Name, in.Dimensions, meta.InputShape)
	}
	if !compatible(out.Dimensions, elements(meta.OutputShape)) {
		return fmt.Errorf("model output %s %v does not match %v", out.Name, out.Dimensions, meta.OutputShape)
	}

	e.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	e.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		return fmt.Errorf("failed to create output tensor: %w", err)
	}
	e.info = model.EngineInfo{
		Backend: BackendONNX,
		Threads: opts.NumThreads,
		Input:   in.Name,
		Output:  out.Name,
	}

	build := func(accelerated bool) error {
		so, err := newSessionOptions(opts.NumThreads, accelerated)
		if err != nil {
			return err
		}
		defer so.Destroy()

		session, err := ort.NewAdvancedSessionWithONNXData(data,
			[]string{in.Name}, []string{out.Name},
			[]ort.ArbitraryTensor{e.inputTensor}, []ort.ArbitraryTensor{e.outputTensor},
			so)
		if err != nil {
			return err
		}
		e.session = session
		e.info.Accelerated = accelerated
		return nil
	}

	if opts.UseAccelerator {
		if err := build(true); err != nil {
			log.Warn().Err(err).Msg("accelerated execution unavailable, falling back to CPU")
		}
	}
	if e.session == nil {
		if err := build(false); err != nil {
			return fmt.Errorf("failed to create ONNX session: %w", err)
		}
	}

	log.Info().
		Str("input", in.Name).
		Str("output", out.Name).
		Bool("accelerated", e.info.Accelerated).
		Int("threads", opts.NumThreads).
		Msg("onnx session ready")

	return nil
}

func newSessionOptions(threads int, accelerated bool) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if threads > 0 {
		if err := so.SetIntraOpNumThreads(threads); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}
	if accelerated {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			so.Destroy()
			return nil, fmt.Errorf("failed to enable CUDA: %w", err)
		}
	}
	return so, nil
}

func (e *ONNX) Run(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errors.New("session is closed")
	}
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, err
	}
	return append([]float32(nil), e.outputTensor.GetData()...), nil
}

func (e *ONNX) Info() model.EngineInfo {
	return e.info
}

func (e *ONNX) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.env == nil {
		return nil
	}
	env := e.env
	e.env = nil
	return env.release()
}
