package valkey

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

const snapshotTTL = 10 * time.Minute

// TelemetryPublisher espeja snapshots del recorder en Valkey para que
// dashboards externos los lean sin pegarle al proceso. Best effort: cualquier
// falla se loguea y se reintenta en el próximo ciclo.
type TelemetryPublisher struct {
	client   *Client
	recorder *telemetry.Recorder
	interval time.Duration
}

func NewTelemetryPublisher(client *Client, recorder *telemetry.Recorder, interval time.Duration) *TelemetryPublisher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TelemetryPublisher{client: client, recorder: recorder, interval: interval}
}

// Start publica snapshots hasta que el contexto se cancele.
func (p *TelemetryPublisher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.publish(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *TelemetryPublisher) publish(ctx context.Context) {
	snapshot := p.recorder.GetSnapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		logrus.Warnf("[VALKEY] Failed to marshal telemetry snapshot: %v", err)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := p.client.Key("telemetry", "snapshot")
	cmd := p.client.Inner().B().Set().Key(key).Value(string(data)).Ex(snapshotTTL).Build()
	if err := p.client.Inner().Do(opCtx, cmd).Error(); err != nil {
		logrus.Warnf("[VALKEY] Failed to publish telemetry snapshot: %v", err)
	}
}
