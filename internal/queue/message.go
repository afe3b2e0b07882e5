package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
)

// ErrInvalidMessage 消息体不合法
var ErrInvalidMessage = errors.New("invalid analysis message")

// AnalysisMessage 分析提交消息
type AnalysisMessage struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	FilePath string `json:"file_path"`
}

// DecodeMessage 解析并校验消息，缺少文件名时取路径的文件名部分
func DecodeMessage(body []byte) (*AnalysisMessage, error) {
	var msg AnalysisMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.JobID == "" || msg.FilePath == "" {
		return nil, fmt.Errorf("%w: job_id and file_path are required", ErrInvalidMessage)
	}
	if msg.Filename == "" {
		msg.Filename = filepath.Base(msg.FilePath)
	}
	return &msg, nil
}
