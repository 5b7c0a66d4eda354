package permissions

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/fieldline/gatehouse/pkg/observability"
)

// Sweeper periodically audits the mapping store for integrity defects:
// mappings referencing codes missing from the catalog, and scope
// overrides on permissions that do not support scoping. Resolution
// already skips such mappings per request; the sweep surfaces them to
// operators before anyone notices a silently missing grant.
type Sweeper struct {
	store   MappingStore
	catalog *Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewSweeper creates an integrity sweeper. logger and metrics may be
// nil.
func NewSweeper(store MappingStore, catalog *Catalog, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Sweeper{
		store:   store,
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
	}
}

// Start schedules sweeps on the given cron spec (e.g. "@every 15m") and
// runs one sweep immediately so defects show up at boot, not after the
// first interval.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(s.logger, "integrity sweep")
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.WithError(err).Error("Integrity sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule integrity sweep: %w", err)
	}

	s.cron = c
	c.Start()

	go func() {
		defer observability.RecoverPanic(s.logger, "initial integrity sweep")
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("Initial integrity sweep failed")
		}
	}()

	s.logger.WithField("schedule", schedule).Info("Integrity sweeper started")
	return nil
}

// Stop halts scheduled sweeps and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for integrity sweep to finish: %w", ctx.Err())
	}
}

// SweepReport summarizes one integrity sweep.
type SweepReport struct {
	ActiveMappings     int `json:"active_mappings"`
	UnknownCodes       int `json:"unknown_codes"`
	OverridesUnscoped  int `json:"overrides_on_unscoped"`
	InvalidOverrides   int `json:"invalid_overrides"`
	UnknownEntityKinds int `json:"unknown_entity_kinds"`
}

// Defects returns the total number of malformed mappings found.
func (r SweepReport) Defects() int {
	return r.UnknownCodes + r.OverridesUnscoped + r.InvalidOverrides + r.UnknownEntityKinds
}

// Sweep audits every active mapping once and reports what it found.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	mappings, err := s.store.AllActive(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load active mappings: %w", err)
	}
	report.ActiveMappings = len(mappings)

	for _, m := range mappings {
		if !m.Target.Kind.Valid() {
			report.UnknownEntityKinds++
			s.warnMapping(m, "unknown_entity_kind", "Mapping targets an unknown entity kind")
			continue
		}

		def, err := s.catalog.Get(m.Code)
		if err != nil {
			report.UnknownCodes++
			s.warnMapping(m, "unknown_code", "Mapping references a code missing from the catalog")
			continue
		}

		if m.ScopeOverride != nil {
			if !def.SupportsScope {
				report.OverridesUnscoped++
				s.warnMapping(m, "override_on_unscoped", "Mapping overrides scope on a permission that does not support scoping")
			} else if !m.ScopeOverride.Valid() {
				report.InvalidOverrides++
				s.warnMapping(m, "invalid_override", "Mapping has a scope override outside the defined scopes")
			}
		}
	}

	if s.metrics != nil {
		s.metrics.MappingsActiveTotal.Set(float64(report.ActiveMappings))
	}

	if report.Defects() > 0 {
		s.logger.WithFields(map[string]interface{}{
			"active_mappings":       report.ActiveMappings,
			"unknown_codes":         report.UnknownCodes,
			"overrides_on_unscoped": report.OverridesUnscoped,
			"invalid_overrides":     report.InvalidOverrides,
			"unknown_entity_kinds":  report.UnknownEntityKinds,
		}).Warn("Integrity sweep found malformed mappings")
	} else {
		s.logger.WithField("active_mappings", report.ActiveMappings).Debug("Integrity sweep clean")
	}

	return report, nil
}

func (s *Sweeper) warnMapping(m Mapping, reason, message string) {
	s.logger.WithFields(map[string]interface{}{
		"mapping_id": m.ID,
		"code":       m.Code,
		"target":     m.Target.String(),
		"reason":     reason,
	}).Warn(message)
	if s.metrics != nil {
		s.metrics.IntegrityWarningsTotal.WithLabelValues(reason).Inc()
	}
}
