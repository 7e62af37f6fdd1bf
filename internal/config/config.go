package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	ModelDir     string
	ModelFile    string
	MetadataFile string

	Engine         string
	ORTLibPath     string
	UseAccelerator bool
	NumThreads     int
	ResizeFilter   string

	LogLevel  string
	LogFormat string

	MaxUploadBytes int64
	CanvasSize     int
	BrushWidth     float64

	SessionTTL  time.Duration
	MaxSessions int

	TelegramToken string
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one exists.
func Load() (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	cfg := &Config{
		Port:          env("PORT", "8080"),
		ModelDir:      env("MODEL_DIR", "models"),
		ModelFile:     env("MODEL_FILE", "mnist.onnx"),
		MetadataFile:  env("METADATA_FILE", "model_metadata.json"),
		Engine:        env("ENGINE", "onnx"),
		ORTLibPath:    os.Getenv("ORT_LIB_PATH"),
		ResizeFilter:  env("RESIZE_FILTER", "nearest"),
		LogLevel:      env("LOG_LEVEL", "info"),
		LogFormat:     env("LOG_FORMAT", "console"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
	}

	var err error
	if cfg.UseAccelerator, err = envBool("USE_ACCELERATOR", true); err != nil {
		return nil, err
	}
	if cfg.NumThreads, err = envInt("NUM_THREADS", 0); err != nil {
		return nil, err
	}
	if cfg.CanvasSize, err = envInt("CANVAS_SIZE", 280); err != nil {
		return nil, err
	}
	maxUpload, err := envInt("MAX_UPLOAD_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.BrushWidth, err = envFloat("BRUSH_WIDTH", 20); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = envDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxSessions, err = envInt("MAX_SESSIONS", 1000); err != nil {
		return nil, err
	}

	if cfg.NumThreads < 0 {
		return nil, fmt.Errorf("NUM_THREADS must not be negative, got %d", cfg.NumThreads)
	}
	if cfg.CanvasSize <= 0 {
		return nil, fmt.Errorf("CANVAS_SIZE must be positive, got %d", cfg.CanvasSize)
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.BrushWidth <= 0 {
		return nil, fmt.Errorf("BRUSH_WIDTH must be positive, got %g", cfg.BrushWidth)
	}
	if cfg.SessionTTL < 0 {
		return nil, fmt.Errorf("SESSION_TTL must not be negative, got %s", cfg.SessionTTL)
	}
	if cfg.MaxSessions < 0 {
		return nil, fmt.Errorf("MAX_SESSIONS must not be negative, got %d", cfg.MaxSessions)
	}

	return cfg, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
