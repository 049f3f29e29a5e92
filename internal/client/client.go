// Package client dials a running daemon.
package client

import (
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/wxweb/internal/api"
	"github.com/matheus3301/wxweb/internal/lock"
	"github.com/matheus3301/wxweb/internal/session"
)

// Client wraps the gRPC connection to one session's daemon.
type Client struct {
	*api.ControlClient
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{ControlClient: api.NewControlClient(conn), conn: conn}, nil
}

// ForSession dials the daemon of the named session. It fails fast when no
// daemon holds the session lock or the socket is missing.
func ForSession(name string) (*Client, error) {
	if _, held := lock.Holder(session.LockPath(name)); !held {
		return nil, fmt.Errorf("no daemon running for session %q", name)
	}
	socketPath := session.SocketPath(name)
	if _, err := os.Stat(socketPath); err != nil {
		return nil, fmt.Errorf("daemon socket for session %q: %w", name, err)
	}
	return New(socketPath)
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
