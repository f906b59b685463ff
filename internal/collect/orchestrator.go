package collect

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/phobologic/docweave/internal/model"
)

// Orchestrator sequences collectors and aggregates their output, isolating
// per-collector failure. It always returns a record, even when every
// collector failed.
type Orchestrator struct {
	collectors []Collector
	log        *zap.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// NewOrchestrator returns an orchestrator over the given collectors.
func NewOrchestrator(collectors []Collector, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		collectors: append([]Collector(nil), collectors...),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register appends a collector. Registration order breaks priority ties.
func (o *Orchestrator) Register(c Collector) {
	o.collectors = append(o.collectors, c)
}

// Run executes collectors ascending by priority against the target and
// returns the aggregated record. A collector failure is recorded under
// "<name>_error" in the raw bucket and never stops subsequent collectors.
func (o *Orchestrator) Run(ctx context.Context, t *Target) *model.CollectedMetadata {
	record := model.NewCollectedMetadata(t.QualifiedName(), t.FilePath)

	ordered := append([]Collector(nil), o.collectors...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for _, c := range ordered {
		if c.Applies != nil && !c.Applies(ctx, t) {
			o.log.Debug("collector not applicable",
				zap.String("collector", c.Name),
				zap.String("file", t.FilePath))
			continue
		}

		data, err := o.invoke(ctx, c, t)
		if err != nil {
			o.log.Debug("collector failed",
				zap.String("collector", c.Name),
				zap.Error(err))
			record.Raw[c.Name+"_error"] = err.Error()
			continue
		}

		bucket := record.Bucket(c.Category)
		for k, v := range data {
			bucket[k] = v
		}
	}

	return record
}

// invoke runs one collector under the failure boundary: returned errors and
// panics both surface as an error, never past the orchestrator.
func (o *Orchestrator) invoke(ctx context.Context, c Collector, t *Target) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("collector %s panicked: %v", c.Name, r)
		}
	}()
	return c.Collect(ctx, t)
}
