package notify

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"securehealth/internal/client"
	"securehealth/internal/models"
	"securehealth/internal/util"
)

// AlertBroadcaster fans alert events out to the WebSocket hub and the Kafka
// alert topic. Broadcast returns immediately; delivery runs in a detached
// goroutine and every failure is swallowed after logging, so notification can
// never unwind a persisted alert.
type AlertBroadcaster struct {
	hub      *Hub
	producer *client.KafkaProducer
	topic    string
	logger   *zap.Logger
}

func NewAlertBroadcaster(hub *Hub, producer *client.KafkaProducer, topic string, logger *zap.Logger) *AlertBroadcaster {
	return &AlertBroadcaster{
		hub:      hub,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Broadcast delivers one alert event, at most once, fire-and-forget.
func (b *AlertBroadcaster) Broadcast(event models.AlertEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal alert event", util.ErrorField(err))
		return
	}

	if b.hub != nil {
		b.hub.Send(payload)
	}

	if b.producer != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.producer.ProduceMessage(ctx, b.topic, []byte(event.UserID), payload); err != nil {
				b.logger.Warn("kafka alert broadcast failed",
					util.String("alert_id", event.AlertID),
					util.ErrorField(err),
				)
			}
		}()
	}
}
