//go:build tflite
// +build tflite

package inference

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/xnnpack"
	"github.com/rs/zerolog"

	"github.com/Brownie44l1/digit-api/internal/model"
)

// TFLite runs the model through the TensorFlow Lite C API. The accelerator
// is the XNNPACK delegate.
type TFLite struct {
	mu       sync.Mutex
	model    *tflite.Model
	options  *tflite.InterpreterOptions
	delegate delegates.Delegater
	interp   *tflite.Interpreter
	info     model.EngineInfo
}

func NewTFLite(data []byte, meta model.Metadata, opts Options, log zerolog.Logger) (*TFLite, error) {
	m := tflite.NewModel(data)
	if m == nil {
		return nil, errors.New("cannot parse tflite model")
	}

	e := &TFLite{
		model: m,
		info:  model.EngineInfo{Backend: BackendTFLite, Threads: opts.NumThreads},
	}

	build := func(accelerated bool) error {
		o := tflite.NewInterpreterOptions()
		if opts.NumThreads > 0 {
			o.SetNumThread(opts.NumThreads)
		}
		o.SetErrorReporter(func(msg string, _ interface{}) {
			log.Warn().Str("source", "tflite").Msg(msg)
		}, nil)

		var d delegates.Delegater
		if accelerated {
			threads := opts.NumThreads
			if threads <= 0 {
				threads = 1
			}
			xd := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(threads)})
			if xd == nil {
				o.Delete()
				return errors.New("xnnpack delegate unavailable")
			}
			d = xd
			o.AddDelegate(d)
		}

		interp := tflite.NewInterpreter(m, o)
		if interp == nil {
			o.Delete()
			if d != nil {
				d.Delete()
			}
			return errors.New("cannot create interpreter")
		}
		if status := interp.AllocateTensors(); status != tflite.OK {
			interp.Delete()
			o.Delete()
			if d != nil {
				d.Delete()
			}
			return fmt.Errorf("allocate tensors: status %d", status)
		}

		e.options, e.delegate, e.interp = o, d, interp
		e.info.Accelerated = accelerated
		return nil
	}

	if opts.UseAccelerator {
		if err := build(true); err != nil {
			log.Warn().Err(err).Msg("accelerated execution unavailable, falling back to CPU")
		}
	}
	if e.interp == nil {
		if err := build(false); err != nil {
			e.Close()
			return nil, err
		}
	}

	in := e.interp.GetInputTensor(0)
	if in == nil || len(in.Float32s()) != elements(meta.InputShape) {
		e.Close()
		return nil, fmt.Errorf("model input does not match %v", meta.InputShape)
	}
	e.info.Input = in.Name()
	if out := e.interp.GetOutputTensor(0); out != nil {
		e.info.Output = out.Name()
	}

	log.Info().Bool("accelerated", e.info.Accelerated).Int("threads", opts.NumThreads).Msg("tflite interpreter ready")
	return e, nil
}

func (e *TFLite) Run(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interp == nil {
		return nil, errors.New("interpreter is closed")
	}
	copy(e.interp.GetInputTensor(0).Float32s(), input)

	if status := e.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("invoke: status %d", status)
	}

	out := e.interp.GetOutputTensor(0).Float32s()
	return append([]float32(nil), out...), nil
}

func (e *TFLite) Info() model.EngineInfo {
	return e.info
}

func (e *TFLite) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interp != nil {
		e.interp.Delete()
		e.interp = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.delegate != nil {
		e.delegate.Delete()
		e.delegate = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}
