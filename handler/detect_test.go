package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/ThaiDuy504/traffic-sign-detection/config"
	"github.com/ThaiDuy504/traffic-sign-detection/model"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	loaded     bool
	detections []model.Detection
	annotated  []byte
	err        error

	calls   int
	lastReq *model.DetectionRequest
}

func (f *fakeDetector) Loaded() bool { return f.loaded }

func (f *fakeDetector) Detect(_ context.Context, req *model.DetectionRequest) (*model.DetectionResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	dets := append([]model.Detection(nil), f.detections...)
	return model.NewDetectionResult(req.Filename, dets), nil
}

func (f *fakeDetector) DetectAndAnnotate(ctx context.Context, req *model.DetectionRequest) (*model.DetectionResult, []byte, error) {
	result, err := f.Detect(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return result, f.annotated, nil
}

func signDetections() []model.Detection {
	return []model.Detection{
		{Class: "P.102", ClassName: "Cấm đi ngược chiều", Confidence: 0.91, BBox: model.BBox{X1: 10, Y1: 12, X2: 60, Y2: 64}},
		{Class: "W.207b", Confidence: 0.72, BBox: model.BBox{X1: 100, Y1: 40, X2: 140, Y2: 80}},
		{Class: "P.127*50", Confidence: 0.33, BBox: model.BBox{X1: 200, Y1: 10, X2: 230, Y2: 40}},
	}
}

func newRouter(cfg *config.Config, det Detector) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewDetectHandler(cfg, det)

	r := gin.New()
	r.GET("/health", h.Health)
	r.POST("/detect", h.Detect)
	r.POST("/detect/image", h.DetectImage)
	return r
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Detection.DefaultConf = model.DefaultConf
	cfg.Detection.DefaultIoU = model.DefaultIoU
	cfg.Upload.MaxSize = 1024 * 1024
	return cfg
}

// uploadRequest 构造带指定 Content-Type 的 multipart 请求
func uploadRequest(t *testing.T, target, filename, contentType string, data []byte) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Detail
}

func TestHealth(t *testing.T) {
	for _, loaded := range []bool{true, false} {
		r := newRouter(testConfig(), &fakeDetector{loaded: loaded})
		w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp model.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, loaded, resp.ModelLoaded)
	}
}

func TestDetect(t *testing.T) {
	det := &fakeDetector{loaded: true, detections: signDetections()}
	r := newRouter(testConfig(), det)

	w := serve(r, uploadRequest(t, "/detect?conf=0.5&iou=0.3", "street.jpg", "image/jpeg", []byte("jpeg")))
	require.Equal(t, http.StatusOK, w.Code)

	var result model.DetectionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "street.jpg", result.Filename)
	assert.Equal(t, len(result.Detections), result.DetectionCount)
	require.Len(t, result.Detections, 3)
	for i, d := range result.Detections {
		assert.Equal(t, i+1, d.Index)
	}
	assert.Equal(t, "Cấm đi ngược chiều", result.Detections[0].ClassName)
	assert.Empty(t, result.Detections[1].ClassName)

	require.NotNil(t, det.lastReq)
	assert.InDelta(t, 0.5, det.lastReq.Conf, 1e-9)
	assert.InDelta(t, 0.3, det.lastReq.IoU, 1e-9)
	assert.Equal(t, "image/jpeg", det.lastReq.ContentType)
	assert.Equal(t, []byte("jpeg"), det.lastReq.Image)
}

func TestDetectOmitsEmptyClassName(t *testing.T) {
	det := &fakeDetector{loaded: true, detections: signDetections()}
	r := newRouter(testConfig(), det)

	w := serve(r, uploadRequest(t, "/detect", "street.jpg", "image/jpeg", []byte("jpeg")))
	require.Equal(t, http.StatusOK, w.Code)

	var raw struct {
		Detections []map[string]any `json:"detections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Detections, 3)
	assert.Contains(t, raw.Detections[0], "class_name")
	assert.NotContains(t, raw.Detections[1], "class_name")
}

func TestDetectNoObjects(t *testing.T) {
	r := newRouter(testConfig(), &fakeDetector{loaded: true})

	w := serve(r, uploadRequest(t, "/detect", "empty.png", "image/png", []byte("png")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"filename":"empty.png","detections":[],"detection_count":0}`, w.Body.String())
}

func TestDetectDefaultThresholds(t *testing.T) {
	det := &fakeDetector{loaded: true}
	r := newRouter(testConfig(), det)

	w := serve(r, uploadRequest(t, "/detect", "a.jpg", "image/jpeg", []byte("jpeg")))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, det.lastReq)
	assert.InDelta(t, 0.25, det.lastReq.Conf, 1e-9)
	assert.InDelta(t, 0.45, det.lastReq.IoU, 1e-9)
}

func TestDetectThresholdBounds(t *testing.T) {
	tests := []struct {
		query  string
		status int
	}{
		{"conf=0&iou=0", http.StatusOK},
		{"conf=1&iou=1", http.StatusOK},
		{"conf=0.7", http.StatusOK},
		{"conf=1.5", http.StatusBadRequest},
		{"conf=-0.1", http.StatusBadRequest},
		{"iou=2", http.StatusBadRequest},
		{"iou=-1", http.StatusBadRequest},
		{"conf=abc", http.StatusBadRequest},
		{"conf=NaN", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			det := &fakeDetector{loaded: true}
			r := newRouter(testConfig(), det)

			w := serve(r, uploadRequest(t, "/detect?"+tt.query, "a.jpg", "image/jpeg", []byte("jpeg")))
			assert.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				assert.NotEmpty(t, decodeDetail(t, w))
				assert.Zero(t, det.calls)
			}
		})
	}
}

func TestDetectThresholdMessage(t *testing.T) {
	r := newRouter(testConfig(), &fakeDetector{loaded: true})

	w := serve(r, uploadRequest(t, "/detect?conf=1.5", "a.jpg", "image/jpeg", []byte("jpeg")))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "conf must be between 0.0 and 1.0. Got: 1.5", decodeDetail(t, w))
}

func TestDetectRejectsNonImage(t *testing.T) {
	for _, target := range []string{"/detect", "/detect/image"} {
		det := &fakeDetector{loaded: true}
		r := newRouter(testConfig(), det)

		w := serve(r, uploadRequest(t, target, "notes.txt", "text/plain", []byte("hello")))
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "File must be an image. Got: text/plain", decodeDetail(t, w))
		assert.Zero(t, det.calls)
	}
}

func TestDetectMissingFile(t *testing.T) {
	r := newRouter(testConfig(), &fakeDetector{loaded: true})

	req := httptest.NewRequest(http.MethodPost, "/detect", nil)
	w := serve(r, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decodeDetail(t, w))
}

func TestDetectFileTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxSize = 16
	det := &fakeDetector{loaded: true}
	r := newRouter(cfg, det)

	w := serve(r, uploadRequest(t, "/detect", "big.jpg", "image/jpeg", bytes.Repeat([]byte{0xFF}, 64)))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, det.calls)
}

func TestDetectModelNotLoaded(t *testing.T) {
	for _, target := range []string{"/detect", "/detect/image"} {
		det := &fakeDetector{loaded: false}
		r := newRouter(testConfig(), det)

		w := serve(r, uploadRequest(t, target, "a.jpg", "image/jpeg", []byte("jpeg")))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "Model not loaded", decodeDetail(t, w))
		assert.Zero(t, det.calls)
	}
}

func TestDetectErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{
			name:   "processing failure",
			err:    &model.ProcessingError{Err: errors.New("failed to read image")},
			status: http.StatusInternalServerError,
			detail: "Detection failed: failed to read image",
		},
		{
			name:   "validation failure",
			err:    &model.ValidationError{Message: "iou must be between 0.0 and 1.0. Got: 3"},
			status: http.StatusBadRequest,
			detail: "iou must be between 0.0 and 1.0. Got: 3",
		},
		{
			name:   "model unloaded mid-request",
			err:    model.ErrModelNotLoaded,
			status: http.StatusServiceUnavailable,
			detail: "Model not loaded",
		},
		{
			name:   "unexpected error",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			detail: "Detection failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range []string{"/detect", "/detect/image"} {
				r := newRouter(testConfig(), &fakeDetector{loaded: true, err: tt.err})

				w := serve(r, uploadRequest(t, target, "a.jpg", "image/jpeg", []byte("jpeg")))
				assert.Equal(t, tt.status, w.Code)
				assert.Equal(t, tt.detail, decodeDetail(t, w))
			}
		})
	}
}

func TestDetectImage(t *testing.T) {
	annotated := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	det := &fakeDetector{loaded: true, detections: signDetections(), annotated: annotated}
	r := newRouter(testConfig(), det)

	w := serve(r, uploadRequest(t, "/detect/image?conf=0.4", "street.jpg", "image/jpeg", []byte("jpeg")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="annotated_street.jpg"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, annotated, w.Body.Bytes())
	assert.InDelta(t, 0.4, det.lastReq.Conf, 1e-9)
}

func TestRootBanner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Root(t.TempDir()))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Traffic Sign Detection API", resp["message"])
	assert.Equal(t, "running", resp["status"])
	assert.Contains(t, resp, "endpoints")
}

func TestRootServesIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>signs</h1>"), 0644))

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Root(dir))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>signs</h1>")
}
