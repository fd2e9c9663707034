package model

import "errors"

// ErrModelNotLoaded 模型尚未加载
var ErrModelNotLoaded = errors.New("Model not loaded")

// ValidationError 请求参数不合法（400）
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ProcessingError 推理或解码失败（500），保留底层错误
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string {
	return "Detection failed: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
