package client

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/wxweb/internal/api"
	"github.com/matheus3301/wxweb/internal/lock"
	"github.com/matheus3301/wxweb/internal/session"
)

type statusOnly struct{ api.ControlServer }

func (statusOnly) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"session": "main"})
}

func TestForSessionWithoutDaemon(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := ForSession("main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no daemon running")
}

func TestForSessionDialsSocket(t *testing.T) {
	home, err := os.MkdirTemp("/tmp", "wx-cl-")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(home) }()
	t.Setenv("HOME", home)
	require.NoError(t, session.EnsureDir("main"))

	l, err := lock.Acquire(session.LockPath("main"), "main")
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	lis, err := net.Listen("unix", session.SocketPath("main"))
	require.NoError(t, err)
	srv := grpc.NewServer()
	api.RegisterControlServer(srv, statusOnly{})
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	c, err := ForSession("main")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	st, err := c.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", st.Fields["session"].GetStringValue())
}
