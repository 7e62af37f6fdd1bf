package handlers

import (
	"bytes"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/digit-api/internal/canvas"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/model/modeltest"
	"github.com/Brownie44l1/digit-api/internal/session"
)

func TestCanvasFlow(t *testing.T) {
	f := newFixture(t, modeltest.Ink(sevenWeights...), Options{CanvasSize: 280, BrushWidth: 20})

	rec := f.do(t, http.MethodPost, "/canvases", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[canvasResponse](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 280, created.Width)
	assert.True(t, created.Empty)
	base := "/canvases/" + created.ID

	rec = f.do(t, http.MethodPost, base+"/strokes", StrokesRequest{
		Strokes: [][]canvas.Point{{{X: 60, Y: 60}, {X: 220, Y: 60}, {X: 120, Y: 240}}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, decode[canvasResponse](t, rec).Empty)

	rec = f.do(t, http.MethodPost, base+"/classify", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[model.PredictionResponse](t, rec)
	require.NotNil(t, resp.Digit)
	assert.Equal(t, 7, *resp.Digit)
	assert.True(t, resp.Confident)

	sess, err := f.sessions.Get(created.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.Last())

	rec = f.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[canvasResponse](t, rec).Empty)
	assert.Nil(t, sess.Last())

	// A blank canvas has no ink, so every score is zero.
	rec = f.do(t, http.MethodPost, base+"/classify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[model.PredictionResponse](t, rec)
	assert.Nil(t, resp.Digit)
	assert.False(t, resp.Confident)
	assert.Equal(t, "Prediction Number : none\nConfidence: 0.000000", resp.Display)

	inputs := f.engine.Inputs()
	require.Len(t, inputs, 2)
	for _, v := range inputs[1] {
		require.Zero(t, v)
	}
}

func TestGetCanvasPNG(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{CanvasSize: 40, BrushWidth: 8})

	sess, err := f.sessions.Create()
	require.NoError(t, err)
	require.NoError(t, sess.Canvas.Stroke([]canvas.Point{{X: 20, Y: 20}}))

	rec := f.do(t, http.MethodGet, "/canvases/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	r, g, b, _ := img.At(20, 20).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b})
	r, g, b, _ = img.At(2, 2).RGBA()
	assert.Equal(t, []uint32{0, 0, 0}, []uint32{r, g, b})
}

func TestCanvasNotFound(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/canvases/missing"},
		{http.MethodPost, "/canvases/missing/classify"},
		{http.MethodPost, "/canvases/missing/reset"},
		{http.MethodDelete, "/canvases/missing"},
	} {
		rec := f.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method+" "+tc.path)
	}
}

func TestDeleteCanvas(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	sess, err := f.sessions.Create()
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, "/canvases/"+sess.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestAddStrokesRejectsBadPoints(t *testing.T) {
	f := newFixture(t, modeltest.Scores(1), Options{})

	sess, err := f.sessions.Create()
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/canvases/"+sess.ID+"/strokes", StrokesRequest{
		Strokes: [][]canvas.Point{{{X: 1e9, Y: 0}}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, sess.Canvas.Empty())
}

func TestCreateCanvasRespectsSessionCap(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(0, 0)
	tick := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	f := newFixture(t, modeltest.Scores(1), Options{}, session.WithMaxSessions(3), session.WithClock(tick))

	var ids []string
	for i := 0; i < 10; i++ {
		rec := f.do(t, http.MethodPost, "/canvases", nil)
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decode[canvasResponse](t, rec).ID)
	}
	assert.Equal(t, 3, f.sessions.Len())

	rec := f.do(t, http.MethodGet, "/canvases/"+ids[0], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/canvases/"+ids[9], nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
