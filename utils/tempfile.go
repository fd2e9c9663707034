package utils

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// WithTempFile 将 data 写入临时文件并以其路径调用 fn。
// 无论 fn 正常返回、返回错误还是 panic，临时文件都会被删除。
func WithTempFile(dir, suffix string, data []byte, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, "upload-*"+suffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()

	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			Logger.Warn("failed to delete temp file",
				zap.String("file", path),
				zap.Error(err))
		} else {
			Logger.Debug("temp file deleted", zap.String("file", path))
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	return fn(path)
}
