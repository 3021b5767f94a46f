package rpcfront

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// dialTimeout is the socket connect timeout spec.md §5 allows a client
// before it gives up on a local daemon and falls back to an in-process
// core.
const dialTimeout = 500 * time.Millisecond

// Client is a thin wrapper over a jsonrpc2.Conn dialed to a running
// Server.
type Client struct {
	conn *jsonrpc2.Conn
}

// Dial connects to the daemon listening on the Unix socket at
// socketPath. It returns ErrNoServer if nothing answers within
// dialTimeout; the underlying dial error is not included.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	nc, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, ErrNoServer
	}
	stream := jsonrpc2.NewBufferedStream(nc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, nil)
	return &Client{conn: conn}, nil
}

// Close disconnects from the server.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ping round-trips the "ping" method, returning "pong" on success.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var result string
	err := c.conn.Call(ctx, methodPing, nil, &result)
	return result, err
}

func (c *Client) Query(ctx context.Context, p QueryParams) (QueryResult, error) {
	var result QueryResult
	err := c.conn.Call(ctx, methodQuery, p, &result)
	return result, err
}

func (c *Client) Similar(ctx context.Context, p SimilarParams) ([]SimilarityEntry, error) {
	var result []SimilarityEntry
	err := c.conn.Call(ctx, methodSimilar, p, &result)
	return result, err
}

func (c *Client) SimilarByHash(ctx context.Context, p SimilarByHashParams) ([]SimilarityEntry, error) {
	var result []SimilarityEntry
	err := c.conn.Call(ctx, methodSimilarByHash, p, &result)
	return result, err
}

func (c *Client) Get(ctx context.Context, uid string) (RecordWire, error) {
	var result RecordWire
	err := c.conn.Call(ctx, methodGet, GetParams{UID: uid}, &result)
	return result, err
}

func (c *Client) Update(ctx context.Context, rec RecordWire) (RecordWire, error) {
	var result RecordWire
	err := c.conn.Call(ctx, methodUpdate, UpdateParams{Record: rec}, &result)
	return result, err
}

func (c *Client) Delete(ctx context.Context, uid string) error {
	return c.conn.Call(ctx, methodDelete, DeleteParams{UID: uid}, nil)
}

func (c *Client) CompleteUIDPrefix(ctx context.Context, prefix string) (StringListResult, error) {
	var result StringListResult
	err := c.conn.Call(ctx, methodCompleteUIDPrefix, PrefixParams{Prefix: prefix}, &result)
	return result, err
}

func (c *Client) TagComplete(ctx context.Context, prefix string) (StringListResult, error) {
	var result StringListResult
	err := c.conn.Call(ctx, methodTagComplete, PrefixParams{Prefix: prefix}, &result)
	return result, err
}

func (c *Client) FindDuplicates(ctx context.Context) (DuplicatesResult, error) {
	var result DuplicatesResult
	err := c.conn.Call(ctx, methodFindDuplicates, nil, &result)
	return result, err
}

// removeStaleSocket clears a leftover socket file from an unclean
// shutdown so a fresh net.Listen can bind the path. If something is
// actually listening there, it's left alone and net.Listen will
// correctly fail with "address already in use".
func removeStaleSocket(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil // nothing there to clean up
	}
	if info.Mode()&os.ModeSocket == 0 {
		return nil // not a socket file; not ours to remove
	}
	if conn, err := net.DialTimeout("unix", path, 50*time.Millisecond); err == nil {
		conn.Close()
		return nil // a live server owns this socket
	}
	return os.Remove(path)
}
