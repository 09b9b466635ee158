package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpbd-project/bpbd/pkg/session"
)

func TestDial_SendDeliversToPeerServer(t *testing.T) {
	messageCh := make(chan []byte, 1)
	s := New(Handlers{
		OnMessage: func(h session.Handle, data []byte) {
			messageCh <- data
		},
	}, nil)

	httpSrv := httptest.NewServer(s.echo)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + httpSrv.URL[len("http"):]
	client, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.Send([]byte("forwarded")))

	select {
	case data := <-messageCh:
		assert.Equal(t, "forwarded", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("server never received forwarded frame")
	}
}

func TestDial_OnMessageReceivesServerPush(t *testing.T) {
	var handle session.Handle
	handleSet := make(chan struct{})
	s := New(Handlers{
		OnOpen: func(h session.Handle) {
			handle = h
			close(handleSet)
		},
	}, nil)

	httpSrv := httptest.NewServer(s.echo)
	defer httpSrv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	url := "ws" + httpSrv.URL[len("http"):]
	client, err := Dial(ctx, url, func(data []byte) { received <- data })
	require.NoError(t, err)
	defer client.Close()

	<-handleSet
	assert.True(t, s.Send(handle, []byte("pushed")))

	select {
	case data := <-received:
		assert.Equal(t, "pushed", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("client never received pushed frame")
	}
}

func TestDial_UnreachableAddrFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1", nil)
	assert.Error(t, err)
}
