package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Brownie44l1/digit-api/internal/canvas"
	"github.com/Brownie44l1/digit-api/internal/imaging"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/session"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was ready.
const statusClientClosedRequest = 499

type Options struct {
	MaxUploadBytes int64
	CanvasSize     int
	BrushWidth     float64
}

type Handler struct {
	classifier *model.Classifier
	sessions   *session.MemoryStore
	log        zerolog.Logger
	opts       Options
}

func NewHandler(classifier *model.Classifier, sessions *session.MemoryStore, log zerolog.Logger, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.CanvasSize <= 0 {
		opts.CanvasSize = 280
	}
	if opts.BrushWidth <= 0 {
		opts.BrushWidth = 20
	}
	return &Handler{
		classifier: classifier,
		sessions:   sessions,
		log:        log,
		opts:       opts,
	}
}

// Register mounts every endpoint on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/model", h.Model)

	r.POST("/predict", h.Predict)
	r.POST("/predict/image", h.PredictFromImage)
	r.POST("/predict/strokes", h.PredictFromStrokes)

	canvases := r.Group("/canvases")
	canvases.POST("", h.CreateCanvas)
	canvases.GET("/:id", h.GetCanvas)
	canvases.DELETE("/:id", h.DeleteCanvas)
	canvases.POST("/:id/strokes", h.AddStrokes)
	canvases.POST("/:id/classify", h.ClassifyCanvas)
	canvases.POST("/:id/reset", h.ResetCanvas)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Model(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metadata": h.classifier.Metadata,
		"engine":   h.classifier.EngineInfo(),
	})
}

// Predict classifies a tensor that the caller already preprocessed.
func (h *Handler) Predict(c *gin.Context) {
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindStatus(err), "Invalid JSON", err)
		return
	}

	result, err := h.classifier.Infer(c.Request.Context(), req.Image)
	if err != nil {
		h.fail(c, statusFor(err), "Prediction failed", err)
		return
	}
	c.JSON(http.StatusOK, result.Response())
}

func (h *Handler) PredictFromImage(c *gin.Context) {
	header, err := c.FormFile("image")
	if err != nil {
		h.fail(c, bindStatus(err), "No image file provided. Use 'image' as the form field name", err)
		return
	}

	file, err := header.Open()
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Failed to open form file", err)
		return
	}
	defer file.Close()

	img, format, err := imaging.Decode(file)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid image. Supported: PNG, JPEG, GIF, BMP, TIFF, WebP", err)
		return
	}

	h.log.Debug().
		Str("file", header.Filename).
		Int64("size", header.Size).
		Str("format", format).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("received image")

	result, err := h.classifier.Classify(c.Request.Context(), img)
	if err != nil {
		h.fail(c, statusFor(err), "Prediction failed", err)
		return
	}
	c.JSON(http.StatusOK, result.Response())
}

type StrokesRequest struct {
	Strokes [][]canvas.Point `json:"strokes" binding:"required"`
}

// PredictFromStrokes draws the strokes on a fresh canvas and classifies it.
func (h *Handler) PredictFromStrokes(c *gin.Context) {
	var req StrokesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindStatus(err), "Invalid JSON", err)
		return
	}

	cv, err := canvas.New(h.opts.CanvasSize, h.opts.CanvasSize, canvas.WithBrush(h.opts.BrushWidth))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to create canvas", err)
		return
	}
	if err := drawStrokes(cv, req.Strokes); err != nil {
		h.fail(c, statusFor(err), "Invalid stroke", err)
		return
	}

	result, err := h.classifier.Classify(c.Request.Context(), cv.Bitmap())
	if err != nil {
		h.fail(c, statusFor(err), "Prediction failed", err)
		return
	}
	c.JSON(http.StatusOK, result.Response())
}

func drawStrokes(cv *canvas.Canvas, strokes [][]canvas.Point) error {
	for _, s := range strokes {
		if err := cv.Stroke(s); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) fail(c *gin.Context, status int, msg string, err error) {
	ev := h.log.Warn()
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		ev = h.log.Error()
	}
	ev.Err(err).
		Str("request_id", c.GetString(requestIDKey)).
		Int("status", status).
		Msg(msg)

	c.AbortWithStatusJSON(status, gin.H{"error": msg, "message": err.Error()})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInputSize),
		errors.Is(err, imaging.ErrEmptyImage),
		errors.Is(err, canvas.ErrPointRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// bindStatus reports 413 for a body cut off by BodyLimit and 400 for any
// other malformed request.
func bindStatus(err error) int {
	if status := statusFor(err); status == http.StatusRequestEntityTooLarge {
		return status
	}
	return http.StatusBadRequest
}
