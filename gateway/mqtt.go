package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"ornament-go/qty"
)

// Republisher mirrors the ornament's registers onto an MQTT broker on a
// fixed interval, one retained message per attribute. Read failures skip
// the attribute; the broker keeps the last good value.
type Republisher struct {
	client   paho.Client
	peer     Peripheral
	log      *slog.Logger
	topic    string
	interval time.Duration
}

func NewRepublisher(cfg Config, peer Peripheral, log *slog.Logger) *Republisher {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetWill(cfg.MQTT.Topic+"/status", "offline", 1, true)
	opts.SetOnConnectHandler(func(client paho.Client) {
		log.Info("mqtt connected", slog.String("broker", cfg.MQTT.Broker))
		client.Publish(cfg.MQTT.Topic+"/status", 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Error("mqtt connection lost", slog.Any("err", err))
	})
	return &Republisher{
		client:   paho.NewClient(opts),
		peer:     peer,
		log:      log,
		topic:    cfg.MQTT.Topic,
		interval: cfg.MQTT.Interval,
	}
}

// Run connects and republishes until ctx is cancelled.
func (p *Republisher) Run(ctx context.Context) error {
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer p.client.Disconnect(250)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publishAll()
		}
	}
}

func (p *Republisher) publishAll() {
	for _, a := range attrs() {
		b, err := p.peer.Read(uint16(a.desc.ID))
		if err != nil {
			p.log.Warn("mqtt read skipped", slog.String("attr", a.path), slog.Any("err", err))
			continue
		}
		raw, err := qty.Decode(b, a.desc.Width)
		if err != nil {
			p.log.Warn("mqtt decode skipped", slog.String("attr", a.path), slog.Any("err", err))
			continue
		}
		var body any
		if a.desc.Kind == qty.Scaled {
			body = scaledValue{Value: a.desc.Eng(raw), Unit: a.desc.Unit.String()}
		} else {
			body = uintValue{Value: raw, Unit: a.desc.Unit.String()}
		}
		payload, err := json.Marshal(body)
		if err != nil {
			continue
		}
		token := p.client.Publish(p.topic+"/"+a.desc.Name, 0, true, payload)
		if token.Wait() && token.Error() != nil {
			p.log.Warn("mqtt publish failed", slog.String("attr", a.path), slog.Any("err", token.Error()))
		}
	}
}
