package handlers

import (
	"bytes"
	"image/png"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/digit-api/internal/session"
)

type canvasResponse struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Empty  bool   `json:"empty"`
}

func newCanvasResponse(s *session.Session) canvasResponse {
	w, h := s.Canvas.Size()
	return canvasResponse{ID: s.ID, Width: w, Height: h, Empty: s.Canvas.Empty()}
}

func (h *Handler) CreateCanvas(c *gin.Context) {
	s, err := h.sessions.Create()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to create canvas", err)
		return
	}
	c.JSON(http.StatusCreated, newCanvasResponse(s))
}

// session resolves the :id path parameter, writing a 404 when it is unknown.
func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.fail(c, statusFor(err), "Canvas not found", err)
		return nil, false
	}
	return s, true
}

// GetCanvas returns the current drawing as a PNG.
func (h *Handler) GetCanvas(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, s.Canvas.Bitmap()); err != nil {
		h.fail(c, http.StatusInternalServerError, "Failed to encode canvas", err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *Handler) DeleteCanvas(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		h.fail(c, statusFor(err), "Canvas not found", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) AddStrokes(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req StrokesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindStatus(err), "Invalid JSON", err)
		return
	}
	if err := drawStrokes(s.Canvas, req.Strokes); err != nil {
		h.fail(c, statusFor(err), "Invalid stroke", err)
		return
	}
	c.JSON(http.StatusOK, newCanvasResponse(s))
}

// ClassifyCanvas classifies the current drawing and keeps the result as the
// one on display.
func (h *Handler) ClassifyCanvas(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	result, err := h.classifier.Classify(c.Request.Context(), s.Canvas.Bitmap())
	if err != nil {
		h.fail(c, statusFor(err), "Prediction failed", err)
		return
	}
	s.Show(result)
	c.JSON(http.StatusOK, result.Response())
}

// ResetCanvas clears the drawing and the displayed result.
func (h *Handler) ResetCanvas(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.Reset()
	c.JSON(http.StatusOK, newCanvasResponse(s))
}
