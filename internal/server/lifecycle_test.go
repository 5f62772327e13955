package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGracefulServerServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	var order []string
	gs := NewGracefulServer(&http.Server{Handler: mux}, &GracefulServerOptions{
		BeforeStop:   []func(){func() { order = append(order, "before") }},
		ShutdownHook: func() { order = append(order, "after") },
		Timeout:      time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, []string{"before", "after"}, order)
}

func TestNewGracefulServerDefaults(t *testing.T) {
	srv := &http.Server{}
	gs := NewGracefulServer(srv, nil)
	assert.Equal(t, ShutdownTimeout, gs.timeout)
	assert.NotNil(t, srv.ErrorLog)
}
