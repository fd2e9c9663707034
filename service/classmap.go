package service

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"github.com/ThaiDuy504/traffic-sign-detection/utils"
	"go.uber.org/zap"
)

// LoadClassMapping 读取 "KEY = 描述" 格式的类别映射文件。
// 文件缺失或读取失败时返回空映射，只输出警告。
func LoadClassMapping(path string) map[string]string {
	mapping := map[string]string{}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			utils.Logger.Warn("class mapping file not found, using class keys only", zap.String("path", path))
		} else {
			utils.Logger.Warn("failed to open class mapping, using class keys only", zap.String("path", path), zap.Error(err))
		}
		return mapping
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		mapping[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		utils.Logger.Warn("error reading class mapping, using class keys only", zap.String("path", path), zap.Error(err))
		return map[string]string{}
	}

	utils.Logger.Info("class mapping loaded", zap.String("path", path), zap.Int("entries", len(mapping)))
	return mapping
}
