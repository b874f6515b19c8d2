package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsMostRecent(t *testing.T) {
	r := NewRecorder(2, nil)
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, "a", 1))
	require.NoError(t, r.Publish(ctx, "b", 2))
	require.NoError(t, r.Publish(ctx, "c", 3))

	got := r.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Topic)
	assert.Equal(t, 3, got[1].Event)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestRecorderUnbounded(t *testing.T) {
	r := NewRecorder(0, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Publish(context.Background(), "x", i))
	}
	assert.Len(t, r.Events(), 10)
}
