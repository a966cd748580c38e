package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/release-notifier/internal/catalog"
)

func TestPublishMarshalsPayload(t *testing.T) {
	t.Parallel()

	var got *pubsub.Message
	p := &Publisher{send: func(_ context.Context, msg *pubsub.Message) (string, error) {
		got = msg
		return "server-id", nil
	}}

	id, err := p.Publish(context.Background(), "episode.detected", catalog.EpisodeEvent{Hash: "h1", ItemID: 3})
	require.NoError(t, err)
	require.Equal(t, "server-id", id)
	require.Equal(t, "episode.detected", got.Attributes["event_type"])
	require.JSONEq(t, `{"hash":"h1","item_id":3,"title":"","url":"","subscribers":0,"delivered":0,"detected_at":"0001-01-01T00:00:00Z"}`, string(got.Data))
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	var unset *Publisher
	_, err := unset.Publish(context.Background(), "t", "x")
	require.Error(t, err)
	require.NoError(t, unset.Close())

	p := &Publisher{send: func(context.Context, *pubsub.Message) (string, error) {
		return "", errors.New("unavailable")
	}}
	_, err = p.Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "unavailable")

	_, err = p.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")
}

func TestNewRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "", "topic")
	require.Error(t, err)
	_, err = New(context.Background(), "project", "")
	require.Error(t, err)
}
