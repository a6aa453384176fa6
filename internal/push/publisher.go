package push

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"strategy-backtester/internal/model"
)

// ResultPublisher streams completed cycle evaluations onto the
// BACKTEST stream so the gateway (and any other consumer) can follow
// a run in flight.
type ResultPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewResultPublisher(js nats.JetStreamContext, logger *zap.Logger) *ResultPublisher {
	return &ResultPublisher{js: js, logger: logger}
}

func (p *ResultPublisher) PublishEvaluation(symbol string, eval model.StrategyEvaluation) {
	if p.js == nil {
		return
	}

	data, err := json.Marshal(eval)
	if err != nil {
		p.logger.Error("failed to marshal evaluation", zap.Error(err))
		return
	}

	subject := fmt.Sprintf("backtest.result.%s", symbol)
	if _, err := p.js.Publish(subject, data); err != nil {
		p.logger.Error("failed to publish evaluation", zap.String("subject", subject), zap.Error(err))
	}
}
