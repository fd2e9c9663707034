package service

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/ThaiDuy504/traffic-sign-detection/model"
	"github.com/ThaiDuy504/traffic-sign-detection/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DetectionService 检测适配层：临时文件、推理、标注与缓存
type DetectionService struct {
	predictor    Predictor
	classMapping map[string]string
	cache        ResultCache
	tempDir      string
}

// NewDetectionService predictor 为 nil 时所有检测请求返回 ErrModelNotLoaded；cache 可为 nil
func NewDetectionService(predictor Predictor, classMapping map[string]string, cache ResultCache, tempDir string) *DetectionService {
	if classMapping == nil {
		classMapping = map[string]string{}
	}
	return &DetectionService{
		predictor:    predictor,
		classMapping: classMapping,
		cache:        cache,
		tempDir:      tempDir,
	}
}

// Loaded 模型是否已加载
func (s *DetectionService) Loaded() bool {
	return s.predictor != nil
}

// Detect 返回结构化检测结果
func (s *DetectionService) Detect(ctx context.Context, req *model.DetectionRequest) (*model.DetectionResult, error) {
	if err := s.precheck(req); err != nil {
		return nil, err
	}

	key := CacheKey(utils.BytesMD5(req.Image), req.Conf, req.IoU)
	if detections := s.cachedDetections(ctx, key); detections != nil {
		return model.NewDetectionResult(req.Filename, detections), nil
	}

	detections, _, err := s.run(req, false)
	if err != nil {
		return nil, err
	}
	result := model.NewDetectionResult(req.Filename, detections)

	if s.cache != nil {
		if err := s.cache.SetDetections(ctx, key, result.Detections); err != nil {
			utils.Logger.Warn("failed to set cache", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

// DetectAndAnnotate 返回检测结果与标注后的 JPEG
func (s *DetectionService) DetectAndAnnotate(ctx context.Context, req *model.DetectionRequest) (*model.DetectionResult, []byte, error) {
	if err := s.precheck(req); err != nil {
		return nil, nil, err
	}

	key := CacheKey(utils.BytesMD5(req.Image), req.Conf, req.IoU)
	if detections := s.cachedDetections(ctx, key); detections != nil {
		if annotated := s.cachedAnnotated(ctx, key); annotated != nil {
			return model.NewDetectionResult(req.Filename, detections), annotated, nil
		}
	}

	detections, annotated, err := s.run(req, true)
	if err != nil {
		return nil, nil, err
	}
	result := model.NewDetectionResult(req.Filename, detections)

	if s.cache != nil {
		if err := s.cache.SetDetections(ctx, key, result.Detections); err != nil {
			utils.Logger.Warn("failed to set cache", zap.String("key", key), zap.Error(err))
		}
		if err := s.cache.SetAnnotated(ctx, key, annotated); err != nil {
			utils.Logger.Warn("failed to set cache", zap.String("key", key), zap.Error(err))
		}
	}
	return result, annotated, nil
}

func (s *DetectionService) precheck(req *model.DetectionRequest) error {
	if !s.Loaded() {
		return model.ErrModelNotLoaded
	}
	return req.Validate()
}

// run 将上传内容写入临时文件后推理，临时文件在返回前删除
func (s *DetectionService) run(req *model.DetectionRequest, annotate bool) ([]model.Detection, []byte, error) {
	start := time.Now()

	ext := filepath.Ext(req.Filename)
	if ext == "" {
		ext = ".jpg"
	}

	var detections []model.Detection
	var annotated []byte

	err := utils.WithTempFile(s.tempDir, ext, req.Image, func(path string) error {
		img := gocv.IMRead(path, gocv.IMReadColor)
		defer img.Close()
		if img.Empty() {
			return errors.New("failed to read image")
		}

		predictions, err := s.predictor.Predict(img, float32(req.Conf), float32(req.IoU))
		if err != nil {
			return err
		}
		detections = s.toDetections(predictions)

		if annotate {
			annotated, err = Annotate(img, predictions)
			return err
		}
		return nil
	})
	if err != nil {
		utils.Logger.Error("detection failed",
			zap.String("filename", req.Filename),
			zap.Error(err))
		return nil, nil, &model.ProcessingError{Err: err}
	}

	utils.Logger.Info("image processed",
		zap.String("filename", req.Filename),
		zap.Int("detections", len(detections)),
		zap.Float64("conf", req.Conf),
		zap.Float64("iou", req.IoU),
		zap.Bool("annotated", annotate),
		zap.Duration("duration", time.Since(start)))

	return detections, annotated, nil
}

func (s *DetectionService) toDetections(predictions []Prediction) []model.Detection {
	detections := make([]model.Detection, 0, len(predictions))
	for i, p := range predictions {
		detections = append(detections, model.Detection{
			Index:      i + 1,
			Class:      p.Label,
			ClassName:  s.classMapping[p.Label],
			Confidence: float64(p.Score),
			BBox:       p.Box,
		})
	}
	return detections
}

func (s *DetectionService) cachedDetections(ctx context.Context, key string) []model.Detection {
	if s.cache == nil {
		return nil
	}
	detections, err := s.cache.GetDetections(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.String("key", key), zap.Error(err))
		return nil
	}
	if detections != nil {
		utils.Logger.Info("cache hit", zap.String("key", key))
	}
	return detections
}

func (s *DetectionService) cachedAnnotated(ctx context.Context, key string) []byte {
	if s.cache == nil {
		return nil
	}
	annotated, err := s.cache.GetAnnotated(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.String("key", key), zap.Error(err))
		return nil
	}
	return annotated
}
