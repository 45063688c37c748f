package progress

import (
	"io"
	"testing"
	"time"

	"github.com/cuemby/kiln/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{RunID: "r1", Mnemonic: "Javac", State: types.StatusScheduling})

	select {
	case ev := <-sub:
		assert.Equal(t, "r1", ev.RunID)
		assert.Equal(t, types.StatusScheduling, ev.State)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

// recordingPolicy satisfies types.ExecutionPolicy minimally for the wrapper test.
type recordingPolicy struct {
	reported []types.ProgressState
}

func (p *recordingPolicy) ReportProgress(state types.ProgressState, component string) {
	p.reported = append(p.reported, state)
}
func (p *recordingPolicy) InputMetadata(string) (string, bool) { return "", false }
func (p *recordingPolicy) ExpandInputs(types.Spawn) ([]types.ActionInput, error) {
	return nil, nil
}
func (p *recordingPolicy) Stderr() io.Writer { return io.Discard }
func (p *recordingPolicy) LockOutputFiles()  {}

func TestPolicyWrapperPublishesAndForwards(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	inner := &recordingPolicy{}
	wrapped := &Policy{ExecutionPolicy: inner, Broker: b, RunID: "r2", Mnemonic: "Scalac"}

	wrapped.ReportProgress(types.StatusExecuting, "worker")

	require.Len(t, inner.reported, 1)
	assert.Equal(t, types.StatusExecuting, inner.reported[0])

	select {
	case ev := <-sub:
		assert.Equal(t, "r2", ev.RunID)
		assert.Equal(t, "worker", ev.Component)
	case <-time.After(time.Second):
		t.Fatal("wrapped policy did not publish to broker")
	}
}
