package config

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daviddao/correlog/pkg/correlation"
	"github.com/daviddao/correlog/pkg/metrics"
)

var (
	ErrMissingAction    = errors.New("action has no message")
	ErrMaxKeysWithoutID = errors.New("max_keys requires context_id")
)

// Conditions converts the document form into engine conditions.
func (c ConditionsConfig) Conditions() correlation.Conditions {
	return correlation.NewConditionsBuilder(c.Timeout.Std()).
		MaxSize(c.MaxSize).
		RenewTimeout(c.RenewTimeout.Std()).
		Patterns(c.Patterns...).
		FirstOpens(c.FirstOpens).
		LastCloses(c.LastCloses).
		Build()
}

// ID parses the configured uuid, or generates one when it is absent.
func (c ContextConfig) ID() (uuid.UUID, error) {
	if c.UUID == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(c.UUID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("uuid %q: %w", c.UUID, err)
	}
	return id, nil
}

func (a ActionConfig) build() (correlation.Action, error) {
	if a.Message == nil {
		return nil, ErrMissingAction
	}
	action, err := correlation.NewMessageAction(correlation.MessageActionConfig{
		ID:      a.Message.UUID,
		Name:    a.Message.Name,
		Message: a.Message.Message,
		Values:  a.Message.Values,
		Inject:  a.Message.Inject,
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// Build turns decoded configs into contexts ready for a correlator. Entries
// with a context_id become map contexts, the rest linear ones.
func Build(cfgs []ContextConfig, logger *zap.Logger, m *metrics.Metrics) ([]correlation.Context, error) {
	out := make([]correlation.Context, 0, len(cfgs))
	for i, cfg := range cfgs {
		ctx, err := cfg.build(logger, m)
		if err != nil {
			label := cfg.Name
			if label == "" {
				label = cfg.UUID
			}
			return nil, fmt.Errorf("context %d (%s): %w", i, label, err)
		}
		out = append(out, ctx)
	}
	return out, nil
}

func (c ContextConfig) build(logger *zap.Logger, m *metrics.Metrics) (correlation.Context, error) {
	id, err := c.ID()
	if err != nil {
		return nil, err
	}
	cond := c.Conditions.Conditions()
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	if c.MaxKeys > 0 && c.ContextID == "" {
		return nil, ErrMaxKeysWithoutID
	}

	actions := make([]correlation.Action, 0, len(c.Actions))
	for j, a := range c.Actions {
		action, err := a.build()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", j, err)
		}
		actions = append(actions, action)
	}

	base := correlation.NewBaseContextBuilder(id, cond).
		Name(c.Name).
		Actions(actions...).
		Logger(logger).
		Metrics(m).
		Build()

	if c.ContextID == "" {
		return correlation.NewLinearContext(base), nil
	}
	mc, err := correlation.NewMapContext(base, c.ContextID, c.MaxKeys)
	if err != nil {
		return nil, err
	}
	return mc, nil
}
