package grpctransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvokeRoundTripsThroughRegisteredHandler(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	srv := NewServer()
	srv.Register("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	})
	go srv.Serve(lis)
	defer srv.Stop()

	client, err := Dial(lis.Addr().String())
	assert.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := client.Invoke(ctx, "echo", []byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, "hello", string(reply))
}

func TestInvokeUnknownFunctionErrors(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	srv := NewServer()
	go srv.Serve(lis)
	defer srv.Stop()

	client, err := Dial(lis.Addr().String())
	assert.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.Invoke(ctx, "does-not-exist", nil)
	assert.Error(t, err)
}

func TestEncodeDecodeCallRoundTrips(t *testing.T) {
	c := call{Name: "foo", Payload: []byte{1, 2, 3}}
	encoded := encodeCall(c)
	decoded, err := decodeCall(encoded)
	assert.NoError(t, err)
	assert.Equal(t, c, decoded)
}
