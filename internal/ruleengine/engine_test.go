package ruleengine

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montignypatrik/facnet-validator-core/internal/domain"
)

func entry() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return logrus.NewEntry(logger), hook
}

func TestRegistry_BuiltinWinsOverGenericCollision(t *testing.T) {
	log, hook := entry()
	reg := NewRegistry(log)

	builtin := HandlerFunc{RuleID: "office_fee_validation", Fn: func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
		return []domain.ValidationResult{{RuleID: "office_fee_validation", Category: "builtin"}}, nil
	}}
	generic := HandlerFunc{RuleID: "office_fee_validation", Fn: func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
		return []domain.ValidationResult{{RuleID: "office_fee_validation", Category: "generic"}}, nil
	}}

	reg.RegisterBuiltin(builtin)
	reg.RegisterGeneric(generic)

	handlers := reg.Handlers()
	require.Len(t, handlers, 1)

	out, err := handlers[0].Evaluate(context.Background(), "run-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "builtin", out[0].Category)

	found := false
	for _, e := range hook.Entries {
		if e.Level == logrus.WarnLevel {
			found = true
		}
	}
	assert.True(t, found, "expected a warning about the collision")
}

func TestEngine_IsolatesFailingHandler(t *testing.T) {
	log, _ := entry()
	reg := NewRegistry(log)

	reg.RegisterBuiltin(HandlerFunc{RuleID: "a", Fn: func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
		return nil, errors.New("boom")
	}})
	reg.RegisterBuiltin(HandlerFunc{RuleID: "b", Fn: func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
		return []domain.ValidationResult{{RuleID: "b"}}, nil
	}})

	eng := New(reg, log, 2)
	results := eng.Run(context.Background(), "run-1", nil, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].RuleID)
}

func TestEngine_IsolatesPanickingHandler(t *testing.T) {
	log, _ := entry()
	reg := NewRegistry(log)

	reg.RegisterBuiltin(HandlerFunc{RuleID: "a", Fn: func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
		panic("unexpected nil dereference")
	}})
	reg.RegisterBuiltin(HandlerFunc{RuleID: "b", Fn: func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
		return []domain.ValidationResult{{RuleID: "b"}}, nil
	}})

	eng := New(reg, log, 2)
	results := eng.Run(context.Background(), "run-1", nil, nil)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].RuleID)
}

func TestEngine_ReportsBoundedProgress(t *testing.T) {
	log, _ := entry()
	reg := NewRegistry(log)
	for _, id := range []string{"a", "b", "c", "d"} {
		id := id
		reg.RegisterBuiltin(HandlerFunc{RuleID: id, Fn: func(ctx context.Context, runID string, records []domain.BillingRecord) ([]domain.ValidationResult, error) {
			return nil, nil
		}})
	}

	eng := New(reg, log, 2)
	var seen []int
	eng.Run(context.Background(), "run-1", nil, func(p int) { seen = append(seen, p) })

	require.Len(t, seen, 4)
	for _, p := range seen {
		assert.GreaterOrEqual(t, p, 50)
		assert.LessOrEqual(t, p, 90)
	}
	assert.Equal(t, 90, seen[len(seen)-1])
}

func TestEngine_NoHandlersReportsNinety(t *testing.T) {
	log, _ := entry()
	reg := NewRegistry(log)
	eng := New(reg, log, 2)

	var seen []int
	results := eng.Run(context.Background(), "run-1", nil, func(p int) { seen = append(seen, p) })
	assert.Nil(t, results)
	assert.Equal(t, []int{90}, seen)
}
