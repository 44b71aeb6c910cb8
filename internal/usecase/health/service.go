package health

import (
	"context"

	"github.com/kailas-cloud/distsearch/internal/domain/params"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates no shard answers.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	shards []string
	sender ShardSender
	store  StorePinger
}

// New creates a Service. store can be nil when the response cache is off.
func New(shards []string, sender ShardSender, store StorePinger) *Service {
	return &Service{shards: shards, sender: sender, store: store}
}

// probe is a local, zero-row query every live shard can answer.
func probe() *params.Params {
	return params.Of(
		params.Q, "*:*",
		params.Rows, "0",
		params.Distrib, "false",
		params.IsShard, "true",
	)
}

// Check runs health checks against all shards and the cache store.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.shards)+1)

	failedShards := 0
	for _, name := range s.shards {
		if _, err := s.sender.Send(ctx, name, probe()); err != nil {
			checks["shard:"+name] = CheckError
			failedShards++
		} else {
			checks["shard:"+name] = CheckOK
		}
	}

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			checks["cache"] = CheckError
		} else {
			checks["cache"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if len(s.shards) > 0 && failedShards == len(s.shards) {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}
