package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/digit-api/internal/canvas"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/model/modeltest"
	"github.com/Brownie44l1/digit-api/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	router   *gin.Engine
	engine   *modeltest.Engine
	sessions *session.MemoryStore
}

func newFixture(t *testing.T, engine *modeltest.Engine, opts Options, storeOpts ...session.Option) *fixture {
	t.Helper()

	classifier, err := model.New(engine, model.DefaultMetadata())
	require.NoError(t, err)

	if opts.CanvasSize == 0 {
		opts.CanvasSize = 56
	}
	if opts.BrushWidth == 0 {
		opts.BrushWidth = 6
	}
	sessions := session.NewMemoryStore(func() (*canvas.Canvas, error) {
		return canvas.New(opts.CanvasSize, opts.CanvasSize, canvas.WithBrush(opts.BrushWidth))
	}, storeOpts...)

	h := NewHandler(classifier, sessions, zerolog.Nop(), opts)
	return &fixture{router: NewRouter(h, zerolog.Nop()), engine: engine, sessions: sessions}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// sevenWeights makes class 7 win whenever any ink is present.
var sevenWeights = []float32{0, 0, 0, 0, 0, 0, 0, 1, 0, 0}

func TestHealth(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagates(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestPreflight(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	rec := f.do(t, http.MethodOptions, "/predict", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestModel(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	rec := f.do(t, http.MethodGet, "/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[struct {
		Metadata model.Metadata   `json:"metadata"`
		Engine   model.EngineInfo `json:"engine"`
	}](t, rec)
	assert.Equal(t, []int64{1, 28, 28, 1}, body.Metadata.InputShape)
	assert.Len(t, body.Metadata.Classes, 10)
	assert.Equal(t, "fake", body.Engine.Backend)
}

func TestPredict(t *testing.T) {
	f := newFixture(t, modeltest.Scores(0.1, 0.9, 0.05, 0, 0, 0, 0, 0, 0, 0), Options{})

	rec := f.do(t, http.MethodPost, "/predict", model.PredictionRequest{Image: make([]float32, 784)})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[model.PredictionResponse](t, rec)
	require.NotNil(t, resp.Digit)
	assert.Equal(t, 1, *resp.Digit)
	assert.Equal(t, "1", resp.Class)
	assert.InDelta(t, 0.9, resp.Confidence, 1e-6)
	assert.True(t, resp.Confident)
	assert.Len(t, resp.Predictions, 10)
	assert.Equal(t, "Prediction Number : 1\nConfidence: 0.900000", resp.Display)
}

func TestPredictWrongSize(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	rec := f.do(t, http.MethodPost, "/predict", model.PredictionRequest{Image: make([]float32, 10)})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "Prediction failed", body["error"])
	assert.Contains(t, body["message"], "expected 784 values, got 10")
	assert.Empty(t, f.engine.Inputs())
}

func TestPredictInvalidJSON(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (f *fixture) upload(t *testing.T, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, field, "digit.png", data)
	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestPredictFromImage(t *testing.T) {
	f := newFixture(t, modeltest.Ink(sevenWeights...), Options{})

	img := image.NewGray(image.Rect(0, 0, 100, 60))
	for y := 20; y < 40; y++ {
		for x := 0; x < 100; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	rec := f.upload(t, "image", pngBytes(t, img))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[model.PredictionResponse](t, rec)
	require.NotNil(t, resp.Digit)
	assert.Equal(t, 7, *resp.Digit)

	inputs := f.engine.Inputs()
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0], 784)
	for _, v := range inputs[0] {
		require.True(t, v == 0 || v == 1, "unexpected intensity %v", v)
	}
}

func TestPredictFromImageErrors(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{MaxUploadBytes: 512})

	t.Run("wrong field", func(t *testing.T) {
		rec := f.upload(t, "file", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("not an image", func(t *testing.T) {
		rec := f.upload(t, "image", []byte("definitely not a png"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("too large", func(t *testing.T) {
		rec := f.upload(t, "image", bytes.Repeat([]byte{0xAB}, 8192))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
	t.Run("not multipart", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/predict/image", map[string]string{"image": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Empty(t, f.engine.Inputs())
}

func TestPredictFromStrokes(t *testing.T) {
	f := newFixture(t, modeltest.Ink(sevenWeights...), Options{})

	rec := f.do(t, http.MethodPost, "/predict/strokes", StrokesRequest{
		Strokes: [][]canvas.Point{{{X: 10, Y: 10}, {X: 46, Y: 10}, {X: 28, Y: 50}}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[model.PredictionResponse](t, rec)
	require.NotNil(t, resp.Digit)
	assert.Equal(t, 7, *resp.Digit)
}

func TestPredictFromStrokesRejectsMissingField(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	rec := f.do(t, http.MethodPost, "/predict/strokes", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func longStroke(n int) [][]canvas.Point {
	stroke := make([]canvas.Point, n)
	for i := range stroke {
		stroke[i] = canvas.Point{X: float64(i % 50), Y: float64(i % 50)}
	}
	return [][]canvas.Point{stroke}
}

func TestBodyLimitAppliesToJSON(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{MaxUploadBytes: 1024})

	rec := f.do(t, http.MethodPost, "/canvases", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[canvasResponse](t, rec).ID

	cases := map[string]any{
		"/predict":                     model.PredictionRequest{Image: make([]float32, 784)},
		"/predict/strokes":             StrokesRequest{Strokes: longStroke(500)},
		"/canvases/" + id + "/strokes": StrokesRequest{Strokes: longStroke(500)},
	}
	for path, body := range cases {
		t.Run(path, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, path, body)
			require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
			assert.Equal(t, "Invalid JSON", decode[map[string]string](t, rec)["error"])
		})
	}
	assert.Empty(t, f.engine.Inputs())

	sess, err := f.sessions.Get(id)
	require.NoError(t, err)
	assert.True(t, sess.Canvas.Empty())
}

func TestPredictContextErrors(t *testing.T) {
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := map[string]struct {
		ctx  context.Context
		want int
	}{
		"cancelled": {ctx: cancelled, want: statusClientClosedRequest},
		"deadline":  {ctx: expired, want: http.StatusGatewayTimeout},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, modeltest.Scores(1), Options{})

			var buf bytes.Buffer
			require.NoError(t, json.NewEncoder(&buf).Encode(model.PredictionRequest{Image: make([]float32, 784)}))
			req := httptest.NewRequest(http.MethodPost, "/predict", &buf).WithContext(tc.ctx)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			assert.Empty(t, f.engine.Inputs())
		})
	}
}
