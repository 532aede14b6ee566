package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/educert-api/internal/dto"
)

func TestStatusEventsLocalDelivery(t *testing.T) {
	svc := NewStatusEventService(nil, nil, "", zerolog.Nop())

	events, cancel := svc.Subscribe("21CS090")
	other, cancelOther := svc.Subscribe("21CS091")
	defer cancelOther()

	svc.Publish(context.Background(), dto.StatusEvent{StudentID: "21CS090", CertificateType: "Degree", Status: "minted"})

	select {
	case event := <-events:
		require.Equal(t, "minted", event.Status)
		require.False(t, event.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive its event")
	}

	select {
	case event := <-other:
		t.Fatalf("unexpected event for another student: %+v", event)
	default:
	}

	cancel()
	cancel()
	_, open := <-events
	require.False(t, open)
}

func TestStatusEventsSlowSubscriberDoesNotBlock(t *testing.T) {
	svc := NewStatusEventService(nil, nil, "", zerolog.Nop())
	events, cancel := svc.Subscribe("21CS092")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < statusEventBufferSize*2; i++ {
			svc.Publish(context.Background(), dto.StatusEvent{StudentID: "21CS092", Status: "approved"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.Len(t, events, statusEventBufferSize)
}

func TestStatusEventsCrossNodeOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := NewStatusEventService(newClient(), nil, "educert", zerolog.Nop())
	nodeB := NewStatusEventService(newClient(), nil, "educert", zerolog.Nop())
	nodeA.Start(ctx)
	nodeB.Start(ctx)

	local, cancelLocal := nodeA.Subscribe("21CS093")
	defer cancelLocal()
	remote, cancelRemote := nodeB.Subscribe("21CS093")
	defer cancelRemote()

	event := dto.StatusEvent{StudentID: "21CS093", CertificateType: "Degree", Status: "minted", TransactionHash: "0x01"}

	require.Eventually(t, func() bool {
		nodeA.Publish(ctx, event)
		select {
		case got := <-remote:
			return got.TransactionHash == "0x01"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	got := <-local
	require.Equal(t, "minted", got.Status)
	for len(local) > 0 {
		<-local
	}

	own := nodeA.(*statusEventService)
	payload, err := json.Marshal(statusEnvelope{Source: own.nodeID, Event: event})
	require.NoError(t, err)
	own.handleEnvelope(payload)
	require.Zero(t, len(local), "a node must not rebroadcast its own envelope")
}
