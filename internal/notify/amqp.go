package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName は通知イベントを流すtopic exchange名。
const ExchangeName = "manabiya.events"

// Publisher はAMQPチャネルのうち送出に必要な部分。*amqp.Channelが満たす。
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// DeclareExchange は通知用のexchangeを宣言する。起動時に一度だけ呼び出す。
// キューの宣言とバインドは購読側が行う。
func DeclareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("exchangeの宣言に失敗しました: %w", err)
	}
	return nil
}

// AMQPNotifier はイベントをRabbitMQへ送出するSender。
// ルーティングキーはイベント種別（enrollment.confirmed など）。
type AMQPNotifier struct {
	pub Publisher
}

// NewAMQPNotifier はAMQPNotifierを生成する。
func NewAMQPNotifier(pub Publisher) *AMQPNotifier {
	return &AMQPNotifier{pub: pub}
}

// Send はイベントを永続メッセージとして送出する。
func (n *AMQPNotifier) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗しました: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EnrollmentID + ":" + string(event.Kind),
		Timestamp:    event.OccurredAt,
		Body:         body,
	}

	if err := n.pub.PublishWithContext(ctx, ExchangeName, string(event.Kind), false, false, msg); err != nil {
		return fmt.Errorf("イベントの送出に失敗しました: %w", err)
	}
	return nil
}
