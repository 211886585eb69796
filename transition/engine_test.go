package transition_test

import (
	"context"
	"testing"

	"github.com/kapetan-io/partlife/partition"
	"github.com/kapetan-io/partlife/startup"
	"github.com/kapetan-io/partlife/transition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func step(name string, openErr error) startup.Step[*partition.Context] {
	return startup.FuncStep[*partition.Context]{
		StepName: name,
		OpenFunc: func(_ context.Context, c *partition.Context) (*partition.Context, error) {
			if openErr != nil {
				return c, openErr
			}
			return c, nil
		},
		CloseFunc: func(_ context.Context, c *partition.Context) (*partition.Context, error) {
			return c, nil
		},
	}
}

func TestToLeaderThenToFollowerClosesThenOpens(t *testing.T) {
	ctx := context.Background()
	e := transition.New(transition.Config{
		LeaderSteps:   []startup.Step[*partition.Context]{step("log", nil), step("processor", nil), step("exporter", nil)},
		FollowerSteps: []startup.Step[*partition.Context]{step("log", nil), step("processor", nil)},
	})

	pctx := &partition.Context{PartitionID: 1}
	_, err := e.ToLeader(ctx, pctx, 1).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"log", "processor", "exporter"}, e.Current())

	_, err = e.ToFollower(ctx, pctx, 2).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"log", "processor"}, e.Current())
}

func TestToInactiveClosesEverything(t *testing.T) {
	ctx := context.Background()
	e := transition.New(transition.Config{
		LeaderSteps: []startup.Step[*partition.Context]{step("log", nil)},
	})
	pctx := &partition.Context{PartitionID: 1}
	_, err := e.ToLeader(ctx, pctx, 1).Wait(ctx)
	require.NoError(t, err)

	_, err = e.ToInactive(ctx, pctx).Wait(ctx)
	require.NoError(t, err)
	assert.Empty(t, e.Current())
}

func TestToLeaderInstallFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	boom := &fakeErr{"boom"}
	e := transition.New(transition.Config{
		LeaderSteps: []startup.Step[*partition.Context]{step("log", nil), step("processor", boom)},
	})
	pctx := &partition.Context{PartitionID: 1}
	_, err := e.ToLeader(ctx, pctx, 1).Wait(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"log"}, e.Current())
}
