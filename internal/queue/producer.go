package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/apk-analysis/apk-triage-go/internal/retry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher 消息发布
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// JobRegistrar 发布前登记任务，使任务在被消费前即可查询
type JobRegistrar interface {
	Register(jobID, filename string)
}

// Producer 消息生产者
type Producer struct {
	pub      Publisher
	registry JobRegistrar
	logger   *logrus.Logger
	policy   retry.Policy
}

// NewProducer 创建生产者，registry 可以为 nil
func NewProducer(pub Publisher, registry JobRegistrar, logger *logrus.Logger) *Producer {
	return &Producer{
		pub:      pub,
		registry: registry,
		logger:   logger,
		policy:   retry.PublishPolicy(),
	}
}

// Submit 生成任务 ID 并发布分析消息
func (p *Producer) Submit(filePath, filename string) (string, error) {
	jobID := uuid.New().String()
	msg := &AnalysisMessage{JobID: jobID, Filename: filename, FilePath: filePath}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	if p.registry != nil {
		p.registry.Register(jobID, filename)
	}

	err = retry.Do(context.Background(), p.logger, "publish analysis", p.policy, func(ctx context.Context) error {
		return p.pub.Publish(ctx, body)
	})
	if err != nil {
		p.logger.WithError(err).WithField("job_id", jobID).Error("Failed to publish analysis message")
		return jobID, fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"filename": filename,
	}).Info("Analysis message published")
	return jobID, nil
}
