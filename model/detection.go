package model

import (
	"fmt"
	"strings"
)

const (
	DefaultConf = 0.25
	DefaultIoU  = 0.45
)

// DetectionRequest 单次检测请求
type DetectionRequest struct {
	Filename    string
	ContentType string
	Image       []byte
	Conf        float64 // 置信度阈值 [0, 1]
	IoU         float64 // NMS IoU 阈值 [0, 1]
}

// Validate 校验文件类型与阈值范围
func (r *DetectionRequest) Validate() error {
	if !IsImageContentType(r.ContentType) {
		return &ValidationError{Message: fmt.Sprintf("File must be an image. Got: %s", r.ContentType)}
	}
	if err := ValidateThreshold("conf", r.Conf); err != nil {
		return err
	}
	return ValidateThreshold("iou", r.IoU)
}

// IsImageContentType 判断 MIME 类型是否以 image/ 开头
func IsImageContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}

// ValidateThreshold 阈值必须位于 [0, 1]
func ValidateThreshold(name string, v float64) error {
	if !(v >= 0 && v <= 1) {
		return &ValidationError{Message: fmt.Sprintf("%s must be between 0.0 and 1.0. Got: %v", name, v)}
	}
	return nil
}

// BBox 边界框（像素坐标，左上角与右下角）
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection 单个检测目标
type Detection struct {
	Index      int     `json:"index"`
	Class      string  `json:"class"`
	ClassName  string  `json:"class_name,omitempty"` // 类别映射文件中的本地化名称
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// DetectionResult 检测结果
type DetectionResult struct {
	Filename       string      `json:"filename"`
	Detections     []Detection `json:"detections"`
	DetectionCount int         `json:"detection_count"`
}

// NewDetectionResult 重新编号 1..N 并同步 detection_count
func NewDetectionResult(filename string, detections []Detection) *DetectionResult {
	if detections == nil {
		detections = []Detection{}
	}
	for i := range detections {
		detections[i].Index = i + 1
	}
	return &DetectionResult{
		Filename:       filename,
		Detections:     detections,
		DetectionCount: len(detections),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Detail string `json:"detail"`
}
