package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// MovementEvent 是发布到消息队列的流水事件载荷。
// 事件在台账事务提交后发出，下游（报表、补货提醒）按需消费。
type MovementEvent struct {
	MovementID     int64  `json:"movement_id"`
	ProductBatchID int64  `json:"product_batch_id"`
	LocationID     int64  `json:"location_id"`
	MovementType   string `json:"movement_type"`
	Quantity       int64  `json:"quantity"`
	ReferenceID    string `json:"reference_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedByID    *int64 `json:"created_by_id,omitempty"`
	OccurredAt     string `json:"occurred_at"` // RFC3339
}

// MovementPublisher 把已提交的流水发布到topic交换机，
// routing key 形如 stock.movement.<movement_type>。
// 发布是尽力而为：失败只记日志，台账已提交的事实不受影响，
// 下游可用流水表做补偿对账。
type MovementPublisher struct {
	conn     *Connection
	exchange string
	logger   *zap.Logger
}

// NewMovementPublisher 创建发布器并声明交换机。
func NewMovementPublisher(conn *Connection, exchange string, logger *zap.Logger) (*MovementPublisher, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &MovementPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// PublishMovements 逐条发布流水事件。
func (p *MovementPublisher) PublishMovements(ctx context.Context, movements []*domain.StockMovement) {
	for _, m := range movements {
		if err := p.publish(ctx, m); err != nil {
			p.logger.Warn("failed to publish movement event",
				zap.Int64("movement_id", m.ID),
				zap.String("movement_type", string(m.MovementType)),
				zap.Error(err),
			)
		}
	}
}

func (p *MovementPublisher) publish(ctx context.Context, m *domain.StockMovement) error {
	event := &MovementEvent{
		MovementID:     m.ID,
		ProductBatchID: m.ProductBatchID,
		LocationID:     m.LocationID,
		MovementType:   string(m.MovementType),
		Quantity:       m.Quantity,
		ReferenceID:    m.ReferenceID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedByID:    m.CreatedByID,
		OccurredAt:     m.CreatedAt.Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal movement event: %w", err)
	}

	channel, err := p.conn.Channel()
	if err != nil {
		return err
	}

	routingKey := fmt.Sprintf("stock.movement.%s", m.MovementType)
	err = channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("movement-%d", m.ID),
			Timestamp:    m.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
	}
	return nil
}
