package ws

import (
	"sync"
	"testing"
	"time"

	"crewlink/internal/events"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(buffer int) *Client {
	return newClient(nil, buffer, time.Second, time.Minute, zerolog.Nop())
}

func TestClientSend_AfterClose(t *testing.T) {
	c := newTestClient(4)
	c.Close()
	c.Close()

	err := c.Send(events.Envelope{Kind: events.KindTypingStart})
	require.ErrorIs(t, err, errClientClosed)
}

func TestClientSend_BufferFull(t *testing.T) {
	c := newTestClient(1)

	require.NoError(t, c.Send(events.Envelope{Kind: events.KindMessage}))
	assert.ErrorIs(t, c.Send(events.Envelope{Kind: events.KindMessage}), errSendBufferFull)
}

func TestClientSend_RacingCloseNeverPanics(t *testing.T) {
	c := newTestClient(2)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Send(events.Envelope{Kind: events.KindMessage})
			}
		}()
	}
	c.Close()
	wg.Wait()

	assert.ErrorIs(t, c.Send(events.Envelope{Kind: events.KindMessage}), errClientClosed)
}
