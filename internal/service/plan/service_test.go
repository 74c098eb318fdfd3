package plan

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() []*Plan {
	return []*Plan{
		{
			ID: PlanBasic, Name: "Basic", Price: decimal.Zero, Currency: "KES",
			BillingCycleDays: 30, Features: Features{MaxLoads: 3},
			IsActive: true, IsVisible: true, DisplayOrder: 1,
		},
		{
			ID: PlanPro, Name: "Pro", Price: decimal.NewFromInt(2500), Currency: "KES",
			BillingCycleDays: 30, Features: Features{MaxLoads: 25, PrioritySupport: true},
			IsActive: true, IsVisible: true, DisplayOrder: 2,
		},
		{
			ID: PlanBusiness, Name: "Business", Price: decimal.NewFromInt(7500), Currency: "KES",
			BillingCycleDays: 30, Features: Features{MaxLoads: UnlimitedLoads, DedicatedManager: true},
			IsActive: true, IsVisible: false, DisplayOrder: 3,
		},
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	logger := zerolog.Nop()
	return New(NewMemory(testCatalog()...), &logger)
}

func TestGetPlan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p, err := svc.GetPlan(ctx, PlanPro)
	require.NoError(t, err)
	assert.Equal(t, "Pro", p.Name)
	assert.True(t, decimal.NewFromInt(2500).Equal(p.Price))
	assert.False(t, p.Free())

	_, err = svc.GetPlan(ctx, "enterprise")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetPlan(ctx, "")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestListActivePlansHidesInvisible(t *testing.T) {
	svc := newTestService(t)

	visible, err := svc.ListActivePlans(context.Background())
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, PlanBasic, visible[0].ID)
	assert.Equal(t, PlanPro, visible[1].ID)

	all, err := svc.ListAllPlans(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFeaturesUnlimited(t *testing.T) {
	assert.True(t, Features{MaxLoads: UnlimitedLoads}.Unlimited())
	assert.False(t, Features{MaxLoads: 25}.Unlimited())
}

func TestCreatePlanValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		plan *Plan
	}{
		{"missing id", &Plan{Name: "x", BillingCycleDays: 30}},
		{"missing name", &Plan{ID: "x", BillingCycleDays: 30}},
		{"negative price", &Plan{ID: "x", Name: "x", Price: decimal.NewFromInt(-1), BillingCycleDays: 30}},
		{"zero cycle", &Plan{ID: "x", Name: "x"}},
		{"bad max loads", &Plan{ID: "x", Name: "x", BillingCycleDays: 30, Features: Features{MaxLoads: -2}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreatePlan(ctx, tc.plan)
			assert.ErrorIs(t, err, ErrValidationFailed)
		})
	}

	_, err := svc.CreatePlan(ctx, &Plan{
		ID: PlanPro, Name: "Pro again", BillingCycleDays: 30,
	})
	assert.ErrorIs(t, err, ErrValidationFailed)

	created, err := svc.CreatePlan(ctx, &Plan{
		ID: "starter", Name: "Starter", Price: decimal.NewFromInt(1000),
		Currency: "KES", BillingCycleDays: 30, Features: Features{MaxLoads: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "starter", created.ID)
}
