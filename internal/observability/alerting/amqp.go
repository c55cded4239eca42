package alerting

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisherConfig 描述告警队列的连接参数。
type AMQPPublisherConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// AMQPPublisher 使用 RabbitMQ 投递告警消息。
type AMQPPublisher struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPPublisher 创建告警队列实例。
func NewAMQPPublisher(cfg AMQPPublisherConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "safeagent.alerts"
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = "alert"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ exchange 失败: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// Publish 将告警消息投递到 exchange。
func (p *AMQPPublisher) Publish(ctx context.Context, body []byte) error {
	if p == nil || p.ch == nil {
		return errors.New("告警队列未初始化")
	}
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close 关闭 RabbitMQ 连接。
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
