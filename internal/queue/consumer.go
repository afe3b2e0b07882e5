package queue

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Dispatcher 把消息交给本地 Worker 池，队列满时阻塞
type Dispatcher interface {
	SubmitWait(ctx context.Context, jobID, filePath, filename string) error
}

// Consumer 消息消费者
type Consumer struct {
	mq         *RabbitMQ
	dispatcher Dispatcher
	logger     *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(mq *RabbitMQ, dispatcher Dispatcher, logger *logrus.Logger) *Consumer {
	return &Consumer{
		mq:         mq,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start 开始消费并处理重连
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.startConsuming(ctx); err != nil {
		return err
	}
	go c.handleReconnect(ctx)
	return nil
}

func (c *Consumer) startConsuming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	msgs, err := c.mq.Consume()
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.loop(loopCtx, msgs)

	c.logger.WithField("queue", c.mq.cfg.Queue).Info("Consumer started")
	return nil
}

func (c *Consumer) loop(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return
			}
			c.handle(ctx, d)
		}
	}
}

// handle 处理单条消息
// 非法消息直接丢弃；投递到 Worker 池成功后确认；因关闭中断时重新入队
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	msg, err := DecodeMessage(d.Body)
	if err != nil {
		c.logger.WithError(err).Warn("Dropping invalid message")
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.WithError(nackErr).Error("Failed to nack message")
		}
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"job_id":   msg.JobID,
		"filename": msg.Filename,
	})

	if err := c.dispatcher.SubmitWait(ctx, msg.JobID, msg.FilePath, msg.Filename); err != nil {
		requeue := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		log.WithError(err).WithField("requeue", requeue).Warn("Failed to dispatch message")
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.WithError(nackErr).Error("Failed to nack message")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("Failed to acknowledge message")
		return
	}
	log.Debug("Message dispatched")
}

func (c *Consumer) handleReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.mq.ReconnectChan():
			c.logger.Warn("Connection lost, attempting to reconnect...")
			c.stopConsuming()

			if err := c.mq.Reconnect(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to reconnect, will retry on next signal")
				continue
			}
			if err := c.startConsuming(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to restart consumer")
			}
		}
	}
}

func (c *Consumer) stopConsuming() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	c.mu.Unlock()
	c.wg.Wait()
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer...")
	c.stopConsuming()
	c.logger.Info("Consumer stopped")
}
