package runner

import (
	"context"

	"go.uber.org/zap"

	"strategy-backtester/internal/model"
)

// Job is one backtest request: a strategy replayed for one symbol.
type Job struct {
	Strategy   *model.StrategyTemplate
	CycleCount int
	Symbol     string
	Balances   []Balance
	Results    chan<- []model.StrategyEvaluation
}

// WorkerPool runs independent backtest jobs concurrently. Each job
// gets its own exchange and candle cache inside AnalyzeStrategy, so
// jobs never share mutable state; the pool only fans work out.
type WorkerPool struct {
	jobQueue    chan Job
	workerCount int
	runner      *Runner
	logger      *zap.Logger
}

func NewWorkerPool(workerCount int, bufferSize int, r *Runner, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		jobQueue:    make(chan Job, bufferSize),
		workerCount: workerCount,
		runner:      r,
		logger:      logger,
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(ctx, i)
	}
	p.logger.Info("started backtest worker pool", zap.Int("workers", p.workerCount))
}

// Submit queues a job; it reports false when the queue is full.
func (p *WorkerPool) Submit(job Job) bool {
	select {
	case p.jobQueue <- job:
		return true
	default:
		p.logger.Warn("backtest job queue full, rejecting job", zap.String("symbol", job.Symbol))
		return false
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.process(ctx, id, job)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, workerID int, job Job) {
	p.logger.Debug("worker running backtest",
		zap.Int("worker_id", workerID),
		zap.String("symbol", job.Symbol),
		zap.String("strategy", job.Strategy.StrategyName),
		zap.Int("cycles", job.CycleCount),
	)

	evaluations := p.runner.AnalyzeStrategy(ctx, job.Strategy, job.CycleCount, job.Symbol, job.Balances)
	if job.Results != nil {
		select {
		case job.Results <- evaluations:
		case <-ctx.Done():
		}
	}
}
