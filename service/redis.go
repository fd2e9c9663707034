package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThaiDuy504/traffic-sign-detection/config"
	"github.com/ThaiDuy504/traffic-sign-detection/model"
	"github.com/ThaiDuy504/traffic-sign-detection/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResultCache 检测结果缓存，未命中时返回 nil, nil
type ResultCache interface {
	GetDetections(ctx context.Context, key string) ([]model.Detection, error)
	SetDetections(ctx context.Context, key string, detections []model.Detection) error
	GetAnnotated(ctx context.Context, key string) ([]byte, error)
	SetAnnotated(ctx context.Context, key string, image []byte) error
}

// CacheKey 由图片MD5与阈值组成，同一图片不同阈值分别缓存
func CacheKey(md5 string, conf, iou float64) string {
	return fmt.Sprintf("%s:%g:%g", md5, conf, iou)
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetDetections 从缓存获取检测结果
func (s *RedisService) GetDetections(ctx context.Context, key string) ([]model.Detection, error) {
	data, err := s.client.Get(ctx, "detect:"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	detections := []model.Detection{}
	if err := json.Unmarshal(data, &detections); err != nil {
		utils.Logger.Error("failed to unmarshal cached detections",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	return detections, nil
}

// SetDetections 写入检测结果
func (s *RedisService) SetDetections(ctx context.Context, key string, detections []model.Detection) error {
	data, err := json.Marshal(detections)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, "detect:"+key, data, s.ttl).Err()
}

// GetAnnotated 从缓存获取标注后的 JPEG
func (s *RedisService) GetAnnotated(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, "annotated:"+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// SetAnnotated 写入标注后的 JPEG
func (s *RedisService) SetAnnotated(ctx context.Context, key string, image []byte) error {
	return s.client.Set(ctx, "annotated:"+key, image, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
