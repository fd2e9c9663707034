package utils

import (
	"strconv"
	"time"
)

// GenerateID 生成基于时间戳的ID
func GenerateID() int64 {
	return time.Now().UnixNano()
}

// GenerateRequestID 生成请求ID（36进制时间戳）
func GenerateRequestID() string {
	return strconv.FormatInt(GenerateID(), 36)
}
