package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
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
	cache    CachePinger
	entities EntityStorePinger
}

// New creates a Service. Either dependency can be nil.
func New(cache CachePinger, entities EntityStorePinger) *Service {
	return &Service{cache: cache, entities: entities}
}

// Check runs health checks against all components. The search path degrades
// gracefully when the cache backend is down, so a cache failure reports
// Degraded rather than an outage.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = CheckError
		} else {
			checks["cache"] = CheckOK
		}
	}

	if s.entities != nil {
		if err := s.entities.PingContext(ctx); err != nil {
			checks["entities"] = CheckError
		} else {
			checks["entities"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
