package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltInDrillsPass(t *testing.T) {
	r := NewRunner(nil, nil)

	results := r.RunAll(context.Background(), Drills())

	require.Len(t, results, len(Drills()))
	for _, res := range results {
		assert.True(t, res.Passed, "%s: %s", res.Name, res.Reason)
		assert.Positive(t, res.Events, res.Name)
	}
	assert.Equal(t, results, r.Results())
}

func TestFailingDrillIsReported(t *testing.T) {
	r := NewRunner(nil, nil)

	res := r.Run(context.Background(), Drill{
		Name: "always-fails",
		Check: func(ctx context.Context, env *Env) error {
			if err := admit(ctx, env); err != nil {
				return err
			}
			return errors.New("deliberate")
		},
	})

	assert.False(t, res.Passed)
	assert.Equal(t, "deliberate", res.Reason)
	assert.Positive(t, res.Events)
}
