package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) Send(ctx context.Context, title, message string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func TestNotifyAppliesAllowList(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventHedgeOpened, EventCriticalUnwind}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventHedgeOpened, "opened", "body"))
	require.NoError(t, n.Notify(context.Background(), EventOpportunityFound, "opp", "body"))

	// Only the allowed event reached the channel.
	assert.Equal(t, []string{"opened"}, sender.titles)
}

func TestNotifyEmptyAllowListAllowsEverything(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventOpportunityFound, "a", "x"))
	require.NoError(t, n.Notify(context.Background(), EventHedgeFailed, "b", "x"))
	assert.Len(t, sender.titles, 2)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventHedgeOpened}, discardLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "critical", "body"))
	assert.Equal(t, []string{"critical"}, sender.titles)
}

func TestDispatchCollectsSenderFailures(t *testing.T) {
	broken := &recordingSender{name: "telegram", err: errors.New("boom")}
	healthy := &recordingSender{name: "discord"}
	n := NewNotifier([]Sender{broken, healthy}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")

	// The healthy channel still got the message.
	assert.Len(t, healthy.titles, 1)
}

func TestNotifyNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	require.NoError(t, n.NotifyAll(context.Background(), "title", "body"))
}
