/*
Package stresstest runs WebSocket load tests built from a plan's sampler.

# Architecture

  - Config (config.go): load shape and validation
  - Executor (executor.go): concurrent execution engine
  - Stats (stats.go): in-memory aggregation and percentiles
  - Manager (manager.go): sqlite persistence of configs, runs and metrics
  - Metrics (metrics.go): optional Prometheus collectors

# Executor Design

Each worker owns a sampler.Sampler, its sampler.Connections registry and a
parser.VariableResolver, so streaming connections are reused by the worker
that opened them and never shared. Workers close their registry on exit.

Worker lifecycle:
 1. Workers signal ready via WaitGroup
 2. Scheduler queues iterations, offset from the start of the test when a ramp-up is set
 3. Workers run one sample per iteration, pausing between iterations when configured
 4. Result collector classifies results, updates stats and batches metrics
 5. The run record is finalized once, on completion or cancellation

# Outcomes

Every iteration ends in one of:
  - success
  - connect_failure: the connection never opened
  - abnormal_close: the server closed with a code other than 1000
  - timeout: no completion pattern fired before the response timeout
  - error: template resolution or send failures

# Database Schema

  - ws_probe_configs: saved load test configurations
  - ws_probe_runs: run records with final statistics
  - ws_probe_metrics: one row per iteration

# Example Usage

	manager, err := NewManager("wsprobe.db")
	if err != nil {
		return err
	}
	defer manager.Close()

	executor, err := NewExecutor(&ExecutionConfig{
		Plan:   plan,
		Config: ConfigFromPlan(plan, "chat.yaml", ""),
		Logger: logger,
	}, manager)
	if err != nil {
		return err
	}

	executor.Start()
	err = executor.Wait()

# Cancellation

Tests stop on the configured duration, on Stop or StopWithContext. A sample
in flight finishes within its response timeout; the context only bounds
connection attempts.
*/
package stresstest
