package service

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ThaiDuy504/traffic-sign-detection/config"
	"github.com/ThaiDuy504/traffic-sign-detection/model"
	"github.com/ThaiDuy504/traffic-sign-detection/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Prediction 模型输出的单个目标
type Prediction struct {
	ClassID int
	Label   string
	Score   float32
	Box     model.BBox
}

// Predictor 预训练检测模型：输入图像与阈值，输出目标列表
type Predictor interface {
	Predict(img gocv.Mat, conf, iou float32) ([]Prediction, error)
}

// YOLOModel 通过 OpenCV DNN 执行 YOLOv8 ONNX 模型
type YOLOModel struct {
	net           gocv.Net
	classes       []string
	inputSize     int
	maxDetections int

	// Net 的 SetInput/Forward 会修改网络内部状态，前向推理需串行
	mu sync.Mutex
}

// LoadYOLOModel 加载模型与类别文件，并执行一次预热推理
func LoadYOLOModel(cfg *config.ModelConfig) (*YOLOModel, error) {
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	classes, err := LoadClassFile(cfg.ClassesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load classes: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("classes file %s is empty", cfg.ClassesPath)
	}

	net := gocv.ReadNetFromONNX(cfg.Path)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", cfg.Path)
	}

	if err := net.SetPreferableBackend(gocv.ParseNetBackend(cfg.Backend)); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set backend %q: %w", cfg.Backend, err)
	}
	if err := net.SetPreferableTarget(gocv.ParseNetTarget(cfg.Target)); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set target %q: %w", cfg.Target, err)
	}

	m := &YOLOModel{
		net:           net,
		classes:       classes,
		inputSize:     cfg.InputSize,
		maxDetections: cfg.MaxDetections,
	}

	if err := m.warmUp(); err != nil {
		m.Close()
		return nil, fmt.Errorf("warm-up inference failed: %w", err)
	}

	utils.Logger.Info("detection model loaded",
		zap.String("path", cfg.Path),
		zap.Int("classes", len(classes)),
		zap.Int("input_size", cfg.InputSize),
		zap.String("backend", cfg.Backend),
		zap.String("target", cfg.Target))

	return m, nil
}

// Classes 返回模型类别名称
func (m *YOLOModel) Classes() []string {
	return m.classes
}

// Predict 执行一次推理，返回按置信度降序排列的目标
func (m *YOLOModel) Predict(img gocv.Mat, conf, iou float32) ([]Prediction, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}

	width := img.Cols()
	height := img.Rows()

	// 左上角对齐补成正方形，缩放系数对两个方向相同
	maxDim := max(width, height)
	square := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), maxDim, maxDim, gocv.MatTypeCV8UC3)
	defer square.Close()

	roi := square.Region(image.Rect(0, 0, width, height))
	img.CopyTo(&roi)
	roi.Close()

	blob := gocv.BlobFromImage(square, 1.0/255.0, image.Pt(m.inputSize, m.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	output, err := m.forward(blob)
	if err != nil {
		return nil, err
	}
	defer output.Close()

	sizes := output.Size()
	if len(sizes) != 3 || sizes[1] < 5 {
		return nil, fmt.Errorf("unexpected model output shape %v", sizes)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read model output: %w", err)
	}

	scale := float32(maxDim) / float32(m.inputSize)
	candidates := decodeYOLOv8(data, sizes[1], sizes[2], conf, scale, width, height)
	kept := nonMaxSuppression(candidates, conf, iou, m.maxDetections)

	predictions := make([]Prediction, 0, len(kept))
	for _, c := range kept {
		predictions = append(predictions, Prediction{
			ClassID: c.classID,
			Label:   m.className(c.classID),
			Score:   c.score,
			Box:     c.box,
		})
	}
	return predictions, nil
}

func (m *YOLOModel) forward(blob gocv.Mat) (gocv.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	if output.Empty() {
		output.Close()
		return output, errors.New("model returned empty output")
	}
	return output, nil
}

func (m *YOLOModel) warmUp() error {
	start := time.Now()
	dummy := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0), m.inputSize, m.inputSize, gocv.MatTypeCV8UC3)
	defer dummy.Close()

	if _, err := m.Predict(dummy, 0.25, 0.45); err != nil {
		return err
	}
	utils.Logger.Debug("model warm-up finished", zap.Duration("cost", time.Since(start)))
	return nil
}

func (m *YOLOModel) className(id int) string {
	if id >= 0 && id < len(m.classes) {
		return m.classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Close 释放底层网络，进程退出时调用一次
func (m *YOLOModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}

// LoadClassFile 读取类别文件，每行一个类别名，忽略空行
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return classes, nil
}
