package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/auction-platform-poc/pkg/contracts/events"
)

type fakeSink struct {
	inserted []events.Notification
	failN    int // falha as primeiras N inserções
}

func (f *fakeSink) Insert(_ context.Context, n events.Notification) error {
	if f.failN > 0 {
		f.failN--
		return errors.New("pg down")
	}
	f.inserted = append(f.inserted, n)
	return nil
}

type fakeDLQ struct {
	keys     []string
	payloads [][]byte
}

func (f *fakeDLQ) Send(_ context.Context, key string, payload []byte) error {
	f.keys = append(f.keys, key)
	f.payloads = append(f.payloads, payload)
	return nil
}

func payload(t *testing.T, n events.Notification) []byte {
	t.Helper()
	b, err := json.Marshal(n)
	require.NoError(t, err)
	return b
}

func TestProcessMessage_Delivers(t *testing.T) {
	sink := &fakeSink{}
	dlq := &fakeDLQ{}
	delivered := 0
	c := &Consumer{Log: zap.NewNop(), Sink: sink, Dlq: dlq, OnDelivered: func() { delivered++ }}

	n := events.Notification{UserID: "alice", AuctionID: "a1", Kind: events.NotifyOutbid, Message: "you have been outbid", Ts: time.Now()}
	err := c.ProcessMessage(context.Background(), []byte("alice"), payload(t, n))

	require.NoError(t, err)
	require.Len(t, sink.inserted, 1)
	require.Equal(t, "alice", sink.inserted[0].UserID)
	require.Equal(t, events.NotifyOutbid, sink.inserted[0].Kind)
	require.Equal(t, 1, delivered)
	require.Empty(t, dlq.keys)
}

func TestProcessMessage_RetriesTransientFailure(t *testing.T) {
	sink := &fakeSink{failN: 2}
	dlq := &fakeDLQ{}
	c := &Consumer{Log: zap.NewNop(), Sink: sink, Dlq: dlq, Retries: 3}

	n := events.Notification{UserID: "bob", AuctionID: "a1", Kind: events.NotifyAuctionWon}
	err := c.ProcessMessage(context.Background(), []byte("bob"), payload(t, n))

	require.NoError(t, err)
	require.Len(t, sink.inserted, 1)
	require.Empty(t, dlq.keys)
}

func TestProcessMessage_ExhaustedRetriesGoToDLQ(t *testing.T) {
	sink := &fakeSink{failN: 10}
	dlq := &fakeDLQ{}
	dead := 0
	c := &Consumer{Log: zap.NewNop(), Sink: sink, Dlq: dlq, Retries: 3, OnDeadLettered: func() { dead++ }}

	n := events.Notification{UserID: "bob", AuctionID: "a1", Kind: events.NotifyAuctionLost}
	raw := payload(t, n)
	err := c.ProcessMessage(context.Background(), []byte("bob"), raw)

	require.Error(t, err)
	require.Empty(t, sink.inserted)
	require.Equal(t, []string{"bob"}, dlq.keys)
	require.Equal(t, raw, dlq.payloads[0])
	require.Equal(t, 1, dead)
}

func TestProcessMessage_MalformedPayloadGoesToDLQ(t *testing.T) {
	sink := &fakeSink{}
	dlq := &fakeDLQ{}
	c := &Consumer{Log: zap.NewNop(), Sink: sink, Dlq: dlq}

	err := c.ProcessMessage(context.Background(), []byte("k"), []byte("{not json"))

	require.Error(t, err)
	require.Empty(t, sink.inserted)
	require.Len(t, dlq.keys, 1)
}

func TestProcessMessage_MissingFieldsGoToDLQ(t *testing.T) {
	sink := &fakeSink{}
	dlq := &fakeDLQ{}
	c := &Consumer{Log: zap.NewNop(), Sink: sink, Dlq: dlq}

	err := c.ProcessMessage(context.Background(), []byte("k"), payload(t, events.Notification{Message: "no user"}))

	require.Error(t, err)
	require.Empty(t, sink.inserted)
	require.Len(t, dlq.keys, 1)
}

func TestProcessMessage_NoDLQConfigured(t *testing.T) {
	sink := &fakeSink{failN: 10}
	c := &Consumer{Log: zap.NewNop(), Sink: sink, Retries: 2}

	err := c.ProcessMessage(context.Background(), []byte("k"), payload(t, events.Notification{UserID: "u", Kind: events.NotifyOutbid}))
	require.Error(t, err)
}
