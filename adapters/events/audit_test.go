package events

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/botcha/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogEvents(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := &syncBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, nil))
	require.NoError(t, LogEvents(ctx, pubSub, logger))

	publisher := NewWatermillPublisher(pubSub)
	require.NoError(t, publisher.PublishRevoked(ctx, ports.TokenEvent{ChallengeID: "c-9", RefreshID: "r-9"}))
	require.NoError(t, pubSub.Publish(TopicIssued, message.NewMessage(watermill.NewUUID(), []byte("{"))))

	assert.Eventually(t, func() bool {
		logs := out.String()
		return strings.Contains(logs, `"challenge_id":"c-9"`) &&
			strings.Contains(logs, `"topic":"botcha.token.revoked"`) &&
			strings.Contains(logs, "dropping malformed token event")
	}, 2*time.Second, 10*time.Millisecond)
}
