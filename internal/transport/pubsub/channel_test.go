package pubsubtransport

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/host-inventory/internal/inventory"
)

func newFakeClient(t *testing.T, ctx context.Context) (*pubsub.Client, *pubsub.Topic) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "raw-records")
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, "normalizer", pubsub.SubscriptionConfig{
		Topic:                 topic,
		EnableMessageOrdering: true,
	})
	require.NoError(t, err)
	return client, topic
}

func TestPublishAndReceive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, _ := newFakeClient(t, ctx)

	pub, err := NewPublisher(client, "raw-records")
	require.NoError(t, err)
	sub, err := NewSubscriber(ctx, client, "normalizer", 4, nil)
	require.NoError(t, err)
	defer sub.Close() //nolint:errcheck

	hosts := []string{"alpha", "bravo", "charlie"}
	for _, h := range hosts {
		rec := inventory.RawRecord{"hostname": h}
		require.NoError(t, pub.Publish(ctx, rec.Tag("qualys")))
	}
	require.NoError(t, pub.Close())

	var got []string
	for range hosts {
		rec, err := sub.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "qualys", rec.SourceName())
		got = append(got, rec["hostname"].(string))
	}
	assert.Equal(t, hosts, got)
}

func TestMalformedMessagesAreSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, topic := newFakeClient(t, ctx)

	_, err := topic.Publish(ctx, &pubsub.Message{Data: []byte("not json")}).Get(ctx)
	require.NoError(t, err)
	topic.Stop()

	pub, err := NewPublisher(client, "raw-records")
	require.NoError(t, err)
	rec := inventory.RawRecord{"hostname": "delta"}
	require.NoError(t, pub.Publish(ctx, rec.Tag("crowdstrike")))
	require.NoError(t, pub.Close())

	sub, err := NewSubscriber(ctx, client, "normalizer", 2, nil)
	require.NoError(t, err)
	defer sub.Close() //nolint:errcheck

	got, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "delta", got["hostname"])
}

func TestCloseEndsReceive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, _ := newFakeClient(t, ctx)

	sub, err := NewSubscriber(ctx, client, "normalizer", 1, nil)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, err = sub.Receive(ctx)
	require.Error(t, err)
}

func TestConstructorValidation(t *testing.T) {
	_, err := NewPublisher(nil, "topic")
	require.Error(t, err)
	_, err = NewSubscriber(context.Background(), nil, "sub", 1, nil)
	require.Error(t, err)
}
