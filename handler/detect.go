package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ThaiDuy504/traffic-sign-detection/config"
	"github.com/ThaiDuy504/traffic-sign-detection/model"
	"github.com/ThaiDuy504/traffic-sign-detection/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Detector 检测适配层
type Detector interface {
	Loaded() bool
	Detect(ctx context.Context, req *model.DetectionRequest) (*model.DetectionResult, error)
	DetectAndAnnotate(ctx context.Context, req *model.DetectionRequest) (*model.DetectionResult, []byte, error)
}

type DetectHandler struct {
	cfg      *config.Config
	detector Detector
}

func NewDetectHandler(cfg *config.Config, detector Detector) *DetectHandler {
	return &DetectHandler{
		cfg:      cfg,
		detector: detector,
	}
}

// Health 健康检查
func (h *DetectHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.detector.Loaded(),
	})
}

// Detect 返回 JSON 检测结果
func (h *DetectHandler) Detect(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	result, err := h.detector.Detect(c.Request.Context(), req)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// DetectImage 返回绘制了检测框的 JPEG
func (h *DetectHandler) DetectImage(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	_, annotated, err := h.detector.DetectAndAnnotate(c.Request.Context(), req)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="annotated_%s"`, req.Filename))
	c.Data(http.StatusOK, "image/jpeg", annotated)
}

// bindRequest 校验并读取上传文件与阈值参数，失败时已写入错误响应
func (h *DetectHandler) bindRequest(c *gin.Context) (*model.DetectionRequest, bool) {
	if !h.detector.Loaded() {
		abort(c, http.StatusServiceUnavailable, model.ErrModelNotLoaded.Error())
		return nil, false
	}

	file, err := c.FormFile("file")
	if err != nil {
		utils.Logger.Warn("failed to get uploaded file", zap.Error(err))
		abort(c, http.StatusBadRequest, "Missing image file in form field 'file'")
		return nil, false
	}

	contentType := file.Header.Get("Content-Type")
	if !model.IsImageContentType(contentType) {
		abort(c, http.StatusBadRequest, fmt.Sprintf("File must be an image. Got: %s", contentType))
		return nil, false
	}

	conf, err := h.threshold(c, "conf", h.cfg.Detection.DefaultConf)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return nil, false
	}
	iou, err := h.threshold(c, "iou", h.cfg.Detection.DefaultIoU)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return nil, false
	}

	if file.Size > h.cfg.Upload.MaxSize {
		abort(c, http.StatusBadRequest, fmt.Sprintf("File size exceeds limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)))
		return nil, false
	}

	f, err := file.Open()
	if err != nil {
		utils.Logger.Error("failed to open uploaded file", zap.Error(err))
		abort(c, http.StatusBadRequest, "Failed to read uploaded file")
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		utils.Logger.Error("failed to read uploaded file", zap.Error(err))
		abort(c, http.StatusBadRequest, "Failed to read uploaded file")
		return nil, false
	}

	utils.Logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("content_type", contentType),
		zap.Int64("size", file.Size),
		zap.Float64("conf", conf),
		zap.Float64("iou", iou))

	return &model.DetectionRequest{
		Filename:    file.Filename,
		ContentType: contentType,
		Image:       data,
		Conf:        conf,
		IoU:         iou,
	}, true
}

func (h *DetectHandler) threshold(c *gin.Context, name string, def float64) (float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number. Got: %s", name, raw)
	}
	if err := model.ValidateThreshold(name, v); err != nil {
		return 0, err
	}
	return v, nil
}

// abortWithError 将检测适配层错误映射为 HTTP 状态码
func (h *DetectHandler) abortWithError(c *gin.Context, err error) {
	var validationErr *model.ValidationError
	var processingErr *model.ProcessingError

	switch {
	case errors.As(err, &validationErr):
		abort(c, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, model.ErrModelNotLoaded):
		abort(c, http.StatusServiceUnavailable, model.ErrModelNotLoaded.Error())
	case errors.As(err, &processingErr):
		abort(c, http.StatusInternalServerError, processingErr.Error())
	default:
		utils.Logger.Error("unexpected detection error", zap.Error(err))
		abort(c, http.StatusInternalServerError, "Detection failed: "+err.Error())
	}
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, model.ErrorResponse{Detail: detail})
}
