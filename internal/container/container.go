package container

import (
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/Brownie44l1/digit-api/internal/canvas"
	"github.com/Brownie44l1/digit-api/internal/config"
	"github.com/Brownie44l1/digit-api/internal/imaging"
	"github.com/Brownie44l1/digit-api/internal/inference"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/session"
)

type Container struct {
	Classifier *model.Classifier
	Sessions   *session.MemoryStore
}

// New loads the model from cfg.ModelDir and wires the services shared by the
// HTTP server and the bot. A model that cannot be loaded is returned as a
// *model.LoadError.
func New(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	factory := inference.Factory(inference.Options{
		Backend:           cfg.Engine,
		SharedLibraryPath: cfg.ORTLibPath,
		NumThreads:        cfg.NumThreads,
		UseAccelerator:    cfg.UseAccelerator,
	}, log.With().Str("component", "inference").Logger())

	return build(cfg, os.DirFS(cfg.ModelDir), factory, log)
}

func build(cfg *config.Config, assets fs.FS, factory model.EngineFactory, log zerolog.Logger) (*Container, error) {
	scaler, err := imaging.NewScaler(cfg.ResizeFilter)
	if err != nil {
		return nil, err
	}

	classifier, err := model.Load(assets, model.Files{
		Model:    cfg.ModelFile,
		Metadata: cfg.MetadataFile,
	}, factory,
		model.WithScaler(scaler),
		model.WithLogger(log.With().Str("component", "classifier").Logger()),
	)
	if err != nil {
		return nil, err
	}

	sessions := session.NewMemoryStore(func() (*canvas.Canvas, error) {
		return canvas.New(cfg.CanvasSize, cfg.CanvasSize, canvas.WithBrush(cfg.BrushWidth))
	},
		session.WithTTL(cfg.SessionTTL),
		session.WithMaxSessions(cfg.MaxSessions),
	)

	info := classifier.EngineInfo()
	log.Info().
		Str("backend", info.Backend).
		Bool("accelerated", info.Accelerated).
		Str("filter", cfg.ResizeFilter).
		Dur("session_ttl", cfg.SessionTTL).
		Int("max_sessions", cfg.MaxSessions).
		Msg("classifier ready")

	return &Container{
		Classifier: classifier,
		Sessions:   sessions,
	}, nil
}

func (c *Container) Close() error {
	return c.Classifier.Close()
}
