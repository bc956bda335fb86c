package stresstest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/studiowebux/wsprobe/internal/parser"
	"github.com/studiowebux/wsprobe/internal/sampler"
	"github.com/studiowebux/wsprobe/internal/types"
)

// metricsBufferSize is the number of metrics written per batch
const metricsBufferSize = 100

// IterationTask represents a single sampler iteration to be executed
type IterationTask struct {
	SequenceNum int
	StartOffset time.Duration // offset from the start of the test
}

// IterationResult represents the result of a single iteration
type IterationResult struct {
	SequenceNum int
	Worker      int
	ElapsedMs   int64
	Outcome     string
	Sample      *types.SampleResult
	Timestamp   time.Time
}

// Executor handles concurrent load test execution. Each worker owns a
// sampler, a connection registry and a variable resolver.
type Executor struct {
	config        *ExecutionConfig
	manager       *Manager
	logger        zerolog.Logger
	run           *Run
	stats         *Stats
	ctx           context.Context
	cancelFunc    context.CancelFunc
	wg            sync.WaitGroup
	workersReady  sync.WaitGroup
	taskChan      chan *IterationTask
	resultChan    chan *IterationResult
	collectorDone chan struct{}
	closeOnce     sync.Once
	finalizeOnce  sync.Once
	testStart     time.Time
	statsMu       sync.Mutex
	sent          int   // iterations actually queued
	activeWorkers int32 // atomic
	metricsBuf    []*Metric
}

// NewExecutor creates a new load test executor and records the run
func NewExecutor(config *ExecutionConfig, manager *Manager) (*Executor, error) {
	if config.Plan == nil {
		return nil, fmt.Errorf("invalid config: plan is required")
	}
	if err := config.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := config.Plan.Sampler.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	run := &Run{
		ConfigName:  config.Config.Name,
		PlanFile:    config.Config.PlanFile,
		ProfileName: config.Config.ProfileName,
		TargetURL:   config.Plan.Sampler.URL(),
		StartedAt:   time.Now(),
		Status:      StatusRunning,
	}
	if config.Config.ID > 0 {
		run.ConfigID = &config.Config.ID
	}

	if err := manager.CreateRun(run); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	stats := NewStats()
	stats.TotalIterations = config.Config.TotalIterations

	return &Executor{
		config:        config,
		manager:       manager,
		logger:        config.Logger.With().Int64("run", run.ID).Logger(),
		run:           run,
		stats:         stats,
		ctx:           ctx,
		cancelFunc:    cancel,
		taskChan:      make(chan *IterationTask, config.Config.ConcurrentConns*2),
		resultChan:    make(chan *IterationResult, config.Config.ConcurrentConns*2),
		collectorDone: make(chan struct{}),
		metricsBuf:    make([]*Metric, 0, metricsBufferSize),
	}, nil
}

// Start begins the load test execution
func (e *Executor) Start() {
	e.testStart = time.Now()
	workers := e.config.Config.ConcurrentConns

	e.logger.Info().
		Str("target", e.run.TargetURL).
		Int("workers", workers).
		Int("iterations", e.config.Config.TotalIterations).
		Msg("load test started")

	// All workers must be receiving before the scheduler starts queuing
	e.workersReady.Add(workers)

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}

	go e.collectResults()

	go func() {
		done := make(chan struct{})
		go func() {
			e.workersReady.Wait()
			close(done)
		}()

		select {
		case <-done:
			e.scheduleIterations()
		case <-e.ctx.Done():
			return
		}
	}()

	if testDuration := e.config.Config.GetTestDuration(); testDuration > 0 {
		go e.durationTimer(testDuration)
	}
}

// durationTimer cancels the test after the specified duration
func (e *Executor) durationTimer(duration time.Duration) {
	select {
	case <-time.After(duration):
		e.logger.Debug().Dur("duration", duration).Msg("test duration reached")
		e.cancelFunc()
	case <-e.ctx.Done():
	}
}

// Stop cancels the load test and waits for the workers
func (e *Executor) Stop() {
	e.cancelFunc()
	e.wg.Wait()
	e.drain()
	e.finalize(StatusCancelled)
}

// StopWithContext cancels the load test, giving up on the workers when ctx
// is done first
func (e *Executor) StopWithContext(ctx context.Context) error {
	e.cancelFunc()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.drain()
		e.finalize(StatusCancelled)
		return nil
	case <-ctx.Done():
		// Workers still running may send results, so the channel closes after them
		go func() {
			<-done
			e.closeResultChan()
		}()
		e.finalize(StatusCancelledTimeout)
		return ctx.Err()
	}
}

// closeResultChan safely closes the result channel (only once)
func (e *Executor) closeResultChan() {
	e.closeOnce.Do(func() {
		close(e.resultChan)
	})
}

// drain closes the result channel and waits until every result is recorded
func (e *Executor) drain() {
	e.closeResultChan()
	<-e.collectorDone
}

// Wait waits for the load test to complete and finalizes the run
func (e *Executor) Wait() error {
	e.wg.Wait()
	e.drain()

	status := StatusCompleted
	e.statsMu.Lock()
	completed := e.stats.CompletedIterations
	e.statsMu.Unlock()

	if completed < e.config.Config.TotalIterations {
		// Reaching the configured duration still counts as completed
		testDuration := e.config.Config.GetTestDuration()
		if testDuration == 0 || time.Since(e.testStart) < testDuration {
			status = StatusCancelled
		}
	}

	e.finalize(status)
	return nil
}

// GetStats returns a snapshot of the current statistics
func (e *Executor) GetStats() *Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	stats := e.stats.Copy()
	stats.TotalIterations = e.config.Config.TotalIterations
	stats.ActiveWorkers = int(atomic.LoadInt32(&e.activeWorkers))
	return stats
}

// GetRun returns the run record
func (e *Executor) GetRun() *Run {
	return e.run
}

// IsExecutionComplete returns true if all queued iterations have been
// processed or the test was cancelled
func (e *Executor) IsExecutionComplete() bool {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	select {
	case <-e.ctx.Done():
		return true
	default:
	}

	return e.sent > 0 && e.stats.CompletedIterations >= e.sent
}

// worker runs iterations from the task channel until it is closed or the
// test is cancelled, then closes its streaming connections
func (e *Executor) worker(id int) {
	defer e.wg.Done()

	logger := e.logger.With().Int("worker", id).Logger()
	conns := sampler.NewConnections()
	resolver := parser.NewVariableResolver(e.config.Plan.Variables, e.config.CLIVars, e.config.EnvVars)
	s := sampler.New(conns, sampler.WithResolver(resolver), sampler.WithLogger(logger))

	defer func() {
		if n := conns.Len(); n > 0 {
			logger.Debug().Int("connections", n).Msg("closing streaming connections")
		}
		conns.CloseAll()
	}()

	e.workersReady.Done()

	pause := e.config.Config.GetPause()
	first := true

	for {
		select {
		case <-e.ctx.Done():
			return
		case task, ok := <-e.taskChan:
			if !ok {
				return
			}

			if wait := time.Until(e.testStart.Add(task.StartOffset)); wait > 0 {
				if !e.sleep(wait) {
					return
				}
			}
			if !first && pause > 0 {
				if !e.sleep(pause) {
					return
				}
			}
			first = false

			resolver.SetIteration(id, task.SequenceNum)

			atomic.AddInt32(&e.activeWorkers, 1)
			e.config.Metrics.workerBusy(1)
			res := s.Sample(e.ctx, &e.config.Plan.Sampler)
			e.config.Metrics.workerBusy(-1)
			atomic.AddInt32(&e.activeWorkers, -1)

			result := &IterationResult{
				SequenceNum: task.SequenceNum,
				Worker:      id,
				ElapsedMs:   time.Since(e.testStart).Milliseconds(),
				Outcome:     Classify(res),
				Sample:      res,
				Timestamp:   time.Now(),
			}

			if result.Outcome != OutcomeSuccess {
				logger.Debug().
					Int("iteration", task.SequenceNum).
					Str("outcome", result.Outcome).
					Int("close_code", res.CloseCode).
					Msg(res.FailureMessage)
			}

			select {
			case <-e.ctx.Done():
				return
			case e.resultChan <- result:
			}
		}
	}
}

// sleep waits for d and reports false when the test was cancelled first
func (e *Executor) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// scheduleIterations queues iterations with optional ramp-up
func (e *Executor) scheduleIterations() {
	defer close(e.taskChan)

	total := e.config.Config.TotalIterations
	rampUpPerIteration := time.Duration(0)
	if rampUp := e.config.Config.GetRampUpDuration(); rampUp > 0 && total > 0 {
		rampUpPerIteration = rampUp / time.Duration(total)
	}

	for i := 0; i < total; i++ {
		select {
		case <-e.ctx.Done():
			return
		case e.taskChan <- &IterationTask{
			SequenceNum: i,
			StartOffset: time.Duration(i) * rampUpPerIteration,
		}:
			e.statsMu.Lock()
			e.sent++
			e.statsMu.Unlock()
		}
	}
}

// Classify maps a sampler result to an iteration outcome
func Classify(res *types.SampleResult) string {
	switch {
	case res.Success:
		return OutcomeSuccess
	case res.CloseCode != 0:
		return OutcomeAbnormalClose
	case !res.Connected && !res.Reused &&
		(res.FailureMessage == sampler.ErrConnectFailed.Error() || res.FailureMessage == sampler.ErrConnectTimeout.Error()):
		return OutcomeConnectFailure
	case res.FailureMessage == sampler.ErrResponseTimeout.Error():
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// collectResults records results until the result channel is closed
func (e *Executor) collectResults() {
	defer close(e.collectorDone)

	for result := range e.resultChan {
		res := result.Sample

		e.statsMu.Lock()
		e.stats.AddResult(res.DurationMs, result.Outcome)
		e.statsMu.Unlock()

		e.config.Metrics.Observe(res, result.Outcome)

		metric := &Metric{
			RunID:        e.run.ID,
			Worker:       result.Worker,
			Iteration:    result.SequenceNum,
			Timestamp:    result.Timestamp,
			ElapsedMs:    result.ElapsedMs,
			Outcome:      result.Outcome,
			CloseCode:    res.CloseCode,
			Reused:       res.Reused,
			Matched:      res.Matched,
			ConnectMs:    res.ConnectMs,
			ResponseMs:   res.ResponseMs,
			DurationMs:   res.DurationMs,
			SentSize:     int64(res.SentSize),
			ReceivedSize: int64(res.ReceivedSize),
			ErrorMessage: res.FailureMessage,
		}

		e.metricsBuf = append(e.metricsBuf, metric)
		if len(e.metricsBuf) >= metricsBufferSize {
			e.flushMetrics()
		}
	}

	e.flushMetrics()
}

// flushMetrics writes buffered metrics to the database
func (e *Executor) flushMetrics() {
	if len(e.metricsBuf) == 0 {
		return
	}

	if err := e.manager.SaveMetricsBatch(e.metricsBuf); err != nil {
		// Persistence failures do not stop the test
		e.logger.Error().Err(err).Int("count", len(e.metricsBuf)).Msg("failed to save metrics")
	}

	e.metricsBuf = e.metricsBuf[:0]
}

// finalize completes the run record with final statistics. Only the first
// call takes effect.
func (e *Executor) finalize(status string) {
	e.finalizeOnce.Do(func() {
		// Releases the duration timer once the run is over
		e.cancelFunc()

		e.statsMu.Lock()
		defer e.statsMu.Unlock()

		now := time.Now()
		e.run.CompletedAt = &now
		e.run.Status = status
		e.run.TotalIterationsSent = e.sent
		e.run.TotalIterationsCompleted = e.stats.CompletedIterations
		e.run.TotalConnectFailures = e.stats.ConnectFailureCount
		e.run.TotalAbnormalCloses = e.stats.AbnormalCloseCount
		e.run.TotalTimeouts = e.stats.TimeoutCount
		e.run.AvgDurationMs = e.stats.AvgDurationMs()
		e.run.MinDurationMs = e.stats.Min()
		e.run.MaxDurationMs = e.stats.Max()
		e.run.P50DurationMs = e.stats.P50()
		e.run.P95DurationMs = e.stats.P95()
		e.run.P99DurationMs = e.stats.P99()

		if err := e.manager.UpdateRun(e.run); err != nil {
			e.logger.Error().Err(err).Msg("failed to update run record")
		}

		e.logger.Info().
			Str("status", status).
			Int("completed", e.run.TotalIterationsCompleted).
			Int("success", e.stats.SuccessCount).
			Int("connect_failures", e.run.TotalConnectFailures).
			Int("abnormal_closes", e.run.TotalAbnormalCloses).
			Int("timeouts", e.run.TotalTimeouts).
			Msg("load test finished")
	})
}
