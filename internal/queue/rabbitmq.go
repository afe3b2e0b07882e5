package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apk-analysis/apk-triage-go/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const defaultHeartbeat = 10 * time.Second

// RabbitMQ RabbitMQ 客户端，断线后由 Consumer 触发重连
type RabbitMQ struct {
	cfg           *config.RabbitMQConfig
	logger        *logrus.Logger
	prefetchCount int
	maxRetries    int

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	reconnect chan struct{}
}

// NewRabbitMQ 连接 RabbitMQ 并声明队列
// prefetchCount 应与 worker 数量匹配
func NewRabbitMQ(cfg *config.RabbitMQConfig, prefetchCount int, logger *logrus.Logger) (*RabbitMQ, error) {
	if prefetchCount <= 0 {
		prefetchCount = 1
	}
	mq := &RabbitMQ{
		cfg:           cfg,
		logger:        logger,
		prefetchCount: prefetchCount,
		maxRetries:    10,
		reconnect:     make(chan struct{}, 1),
	}
	if err := mq.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return mq, nil
}

// URL 连接地址
func URL(cfg *config.RabbitMQConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.VHost)
}

func (mq *RabbitMQ) connect() error {
	conn, err := amqp.DialConfig(URL(mq.cfg), amqp.Config{
		Heartbeat: defaultHeartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(mq.prefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(mq.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	mq.mu.Lock()
	mq.conn = conn
	mq.channel = ch
	mq.mu.Unlock()

	go mq.watch(conn, conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))

	mq.logger.WithFields(logrus.Fields{
		"host":           mq.cfg.Host,
		"port":           mq.cfg.Port,
		"queue":          mq.cfg.Queue,
		"prefetch_count": mq.prefetchCount,
	}).Info("Connected to RabbitMQ")
	return nil
}

// watch 连接或通道意外关闭时发出重连信号
// 主动关闭或连接已被替换时不触发
func (mq *RabbitMQ) watch(conn *amqp.Connection, connClosed, chanClosed <-chan *amqp.Error) {
	var err *amqp.Error
	select {
	case err = <-connClosed:
	case err = <-chanClosed:
	}

	mq.mu.RLock()
	stale := mq.closed || mq.conn != conn
	mq.mu.RUnlock()
	if stale {
		return
	}

	if err != nil {
		mq.logger.WithError(err).Error("RabbitMQ connection lost")
	} else {
		mq.logger.Warn("RabbitMQ connection closed")
	}
	select {
	case mq.reconnect <- struct{}{}:
	default:
	}
}

// Reconnect 关闭旧连接后按线性退避重连
func (mq *RabbitMQ) Reconnect(ctx context.Context) error {
	mq.closeConnections()

	for attempt := 1; attempt <= mq.maxRetries; attempt++ {
		mq.logger.Infof("Attempting to reconnect to RabbitMQ (attempt %d/%d)", attempt, mq.maxRetries)
		err := mq.connect()
		if err == nil {
			mq.logger.Info("Successfully reconnected to RabbitMQ")
			return nil
		}
		mq.logger.WithError(err).Error("Failed to reconnect")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return fmt.Errorf("failed to reconnect after %d attempts", mq.maxRetries)
}

func (mq *RabbitMQ) closeConnections() {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.channel != nil {
		mq.channel.Close()
		mq.channel = nil
	}
	if mq.conn != nil {
		mq.conn.Close()
		mq.conn = nil
	}
}

func (mq *RabbitMQ) currentChannel() (*amqp.Channel, error) {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	if mq.channel == nil {
		return nil, fmt.Errorf("channel is nil")
	}
	return mq.channel, nil
}

// Publish 发布持久化消息
func (mq *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	ch, err := mq.currentChannel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, "", mq.cfg.Queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// Consume 手动确认模式消费
func (mq *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	ch, err := mq.currentChannel()
	if err != nil {
		return nil, err
	}
	msgs, err := ch.Consume(mq.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	return msgs, nil
}

// QueueDepth 队列中等待的消息数
func (mq *RabbitMQ) QueueDepth() (int, error) {
	ch, err := mq.currentChannel()
	if err != nil {
		return 0, err
	}
	q, err := ch.QueueDeclarePassive(mq.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// ReconnectChan 重连信号
func (mq *RabbitMQ) ReconnectChan() <-chan struct{} {
	return mq.reconnect
}

// IsConnected 检查连接状态
func (mq *RabbitMQ) IsConnected() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.conn != nil && !mq.conn.IsClosed()
}

// Close 关闭连接
func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	mq.closed = true
	mq.mu.Unlock()

	mq.closeConnections()
	mq.logger.Info("RabbitMQ connection closed")
	return nil
}
