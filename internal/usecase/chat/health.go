package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/futig/rag-chat-backend/internal/entity"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Health pings every dependency that can report its state. The service is
// degraded as soon as one of them fails.
func (s *Service) Health(ctx context.Context) entity.HealthReport {
	checks := map[string]Pinger{"cache": s.memory}
	if p, ok := s.retriever.(Pinger); ok {
		checks["retrieval"] = p
	}
	if p, ok := s.llm.(Pinger); ok {
		checks["llm"] = p
	}
	if p, ok := s.registry.(Pinger); ok {
		checks["registry"] = p
	}

	var (
		mu       sync.Mutex
		services = make(map[string]string, len(checks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, p := range checks {
		g.Go(func() error {
			cctx, cancel := withTimeout(gctx, s.cfg.CacheTimeout)
			defer cancel()

			status := entity.HealthHealthy
			if err := p.Ping(cctx); err != nil {
				ctxzap.Warn(ctx, "health check failed", zap.String("service", name), zap.Error(err))
				status = entity.HealthUnhealthy
			}
			mu.Lock()
			services[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report := entity.HealthReport{
		Status:            entity.HealthHealthy,
		Services:          services,
		UnhealthyServices: []string{},
		Timestamp:         s.now(),
	}
	for name, status := range services {
		if status != entity.HealthHealthy {
			report.UnhealthyServices = append(report.UnhealthyServices, name)
		}
	}
	if len(report.UnhealthyServices) > 0 {
		sort.Strings(report.UnhealthyServices)
		report.Status = entity.HealthDegraded
	}
	return report
}
