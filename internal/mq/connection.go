// Package mq 提供RabbitMQ连接管理和台账流水事件发布。
package mq

import (
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Connection 封装RabbitMQ连接，断线时按需重建。
type Connection struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// Connect 建立RabbitMQ连接。
func Connect(url string, logger *zap.Logger) (*Connection, error) {
	c := &Connection{url: url, logger: logger}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) dial() error {
	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.logger.Info("rabbitmq connected")
	return nil
}

// Channel 返回可用的channel，连接已断开时尝试重连一次。
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("connection closed")
	}
	if c.conn == nil || c.conn.IsClosed() {
		c.logger.Warn("rabbitmq connection lost, reconnecting")
		if err := c.dial(); err != nil {
			return nil, err
		}
	}
	return c.channel, nil
}

// Close 关闭连接。
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
