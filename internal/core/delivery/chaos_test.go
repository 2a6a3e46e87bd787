package delivery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lossyLink delivers frames synchronously to a peer handler, dropping or
// corrupting a share of them.
type lossyLink struct {
	mu      sync.Mutex
	rng     *rand.Rand
	drop    float64
	corrupt float64
	peer    *Handler
	name    string
}

func (l *lossyLink) Send(_ context.Context, data []byte) error {
	l.mu.Lock()
	roll := l.rng.Float64()
	cut := 1 + l.rng.IntN(len(data))
	l.mu.Unlock()

	switch {
	case roll < l.drop:
		return nil
	case roll < l.drop+l.corrupt:
		l.peer.OnReceive(data[:cut-1], l.name)
	default:
		l.peer.OnReceive(data, l.name)
	}
	return nil
}

func (l *lossyLink) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (l *lossyLink) Close() error { return nil }
func (l *lossyLink) IsOpen() bool { return true }

func runLossyExchange(t *testing.T, drop, corrupt float64, seed uint64) {
	t.Helper()

	sender := newTestHandler(DefaultConfig())
	receiver := newTestHandler(DefaultConfig())

	rng := rand.New(rand.NewPCG(seed, seed+1))
	forward := &lossyLink{rng: rng, drop: drop, corrupt: corrupt, peer: receiver, name: "sender"}
	backward := &lossyLink{rng: rng, drop: drop, corrupt: corrupt, peer: sender, name: "receiver"}
	receiver.Bind(backward)

	var mu sync.Mutex
	delivered := make(map[string]int)
	receiver.OnMessage(func(_ string, msg Message) {
		mu.Lock()
		delivered[msg.ID]++
		mu.Unlock()
	})

	const total = 200
	ctx := context.Background()
	for i := 0; i < total; i++ {
		state := sender.CreateMessageState(Message{Type: "chat", Payload: map[string]any{"seq": i}}, fmt.Sprintf("m-%03d", i), true)
		_, err := sender.Send(ctx, forward, state)
		require.NoError(t, err)
	}

	rounds := 0
	for sender.UnackedCount() > 0 && rounds < 200 {
		rounds++
		sender.RequeueUnacked()
		_, err := sender.FlushPending(ctx, forward)
		require.NoError(t, err)
	}

	assert.Equal(t, 0, sender.UnackedCount(), "all messages acknowledged after %d rounds", rounds)
	assert.Equal(t, 0, sender.PendingCount())
	require.Len(t, delivered, total)
	for id, n := range delivered {
		assert.Equal(t, 1, n, "message %s delivered %d times", id, n)
	}
}

func TestAtLeastOnce_ModerateLoss(t *testing.T) {
	runLossyExchange(t, 0.25, 0, 7)
}

func TestAtLeastOnce_SevereLossAndCorruption(t *testing.T) {
	runLossyExchange(t, 0.45, 0.15, 11)
}
