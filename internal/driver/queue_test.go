package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_OfferPoll(t *testing.T) {
	q := NewQueue[int](2, Block, 0)

	assert.True(t, q.Offer(1))
	assert.True(t, q.Offer(2))
	assert.False(t, q.Offer(3), "full queue with no timeout must reject")
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())

	v, ok := q.Poll(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.Poll(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = q.Poll(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
}

func TestQueue_MinimumCapacity(t *testing.T) {
	q := NewQueue[string](0, DropNewest, 0)
	assert.Equal(t, 1, q.Cap())
}

func TestQueue_BlockWaitsForRoom(t *testing.T) {
	q := NewQueue[int](1, Block, time.Second)
	require.True(t, q.Offer(1))

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Poll(context.Background(), time.Second)
	}()

	assert.True(t, q.Offer(2), "BLOCK must accept once a consumer makes room")
}

func TestQueue_BlockTimesOut(t *testing.T) {
	q := NewQueue[int](1, Block, 20*time.Millisecond)
	require.True(t, q.Offer(1))

	start := time.Now()
	assert.False(t, q.Offer(2))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_DropNewestReturnsImmediately(t *testing.T) {
	q := NewQueue[int](1, DropNewest, time.Second)
	require.True(t, q.Offer(1))

	start := time.Now()
	assert.False(t, q.Offer(2))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	v, ok := q.Poll(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 1, v, "the queued item survives, the new one is dropped")
}

func TestQueue_PollCancelled(t *testing.T) {
	q := NewQueue[int](1, Block, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, ok := q.Poll(ctx, time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestParseOverflowPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    OverflowPolicy
		wantErr bool
	}{
		{in: "", want: Block},
		{in: "BLOCK", want: Block},
		{in: "drop_newest", want: DropNewest},
		{in: "drop_oldest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOverflowPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSampled(t *testing.T) {
	assert.True(t, sampled(1))
	assert.False(t, sampled(2))
	assert.False(t, sampled(999))
	assert.True(t, sampled(1000))
	assert.True(t, sampled(2000))
}
