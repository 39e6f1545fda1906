package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishRoutesByChat(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(1)
	b := hub.Subscribe(2)

	hub.Publish(StatusEvent{ChatID: 1, MessageID: 10, Status: "processing"})

	select {
	case evt := <-a.Events():
		assert.Equal(t, MessageStatusType, evt.Type)
		assert.Equal(t, uint(10), evt.MessageID)
	case <-time.After(time.Second):
		t.Fatal("subscriber of chat 1 got nothing")
	}
	select {
	case evt := <-b.Events():
		t.Fatalf("subscriber of chat 2 got %+v", evt)
	default:
	}

	hub.Unsubscribe(a)
	hub.Unsubscribe(a)
	assert.Equal(t, 0, hub.Subscribers(1))
	_, ok := <-a.Events()
	assert.False(t, ok)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	s := hub.Subscribe(7)
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(StatusEvent{ChatID: 7, MessageID: uint(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, s.Events(), subscriberBuffer)
}

func TestHub_StreamOverWebsocket(t *testing.T) {
	hub := NewHub()
	upgrader := websocket.Upgrader{}
	subscribed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		s := hub.Subscribe(3)
		close(subscribed)
		hub.Stream(conn, s)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	<-subscribed
	hub.Publish(StatusEvent{ChatID: 3, MessageID: 5, Role: "assistant", Status: "completed"})

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got StatusEvent
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, uint(5), got.MessageID)
}
