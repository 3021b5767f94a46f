// Package rpcfront is the RpcFront component (F): a JSON-RPC server
// exposing the daemon's query and record-mutation surface over a local
// socket, plus a client that dials it with an in-process fallback.
//
// Grounded directly on the teacher's own RPC surface:
// github.com/sourcegraph/jsonrpc2, used throughout cmd-rpc-server-car*.go
// for jsonrpc2.Request/jsonrpc2.Error and method-name dispatch via a
// Handle(ctx, conn, req) switch. The teacher fronts its RPC over fasthttp
// because it serves a public HTTP API; our contract is a single local
// socket endpoint, so we wrap a plain net.Conn with
// jsonrpc2.NewBufferedStream + jsonrpc2.VSCodeObjectCodec instead — the
// library's canonical non-HTTP usage pattern, applied to the same
// dependency.
package rpcfront

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"k8s.io/klog/v2"

	"github.com/nightfall-oss/cutespam/catalog"
	"github.com/nightfall-oss/cutespam/query"
	"github.com/nightfall-oss/cutespam/synchronizer"
)

// Server answers RPC calls against a shared Catalog/Engine/Synchronizer
// triple. Lock is the same process-wide mutex used elsewhere (spec.md
// §5); read-only operations that go straight to Catalog take it
// themselves, since Catalog has no internal locking of its own.
type Server struct {
	Lock         *sync.Mutex
	Catalog      *catalog.Catalog
	Engine       *query.Engine
	Synchronizer *synchronizer.Synchronizer
	HashBits     int
}

var _ jsonrpc2.Handler = (*Server)(nil)

// Listen opens a Unix domain socket at socketPath, removing a stale
// socket file left by an unclean shutdown first.
func Listen(socketPath string) (net.Listener, error) {
	if err := removeStaleSocket(socketPath); err != nil {
		return nil, err
	}
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("rpcfront: listening on %q: %w", socketPath, err)
	}
	return l, nil
}

// Serve accepts connections on l until ctx is canceled, handling each on
// its own jsonrpc2.Conn. It returns nil on clean shutdown.
func Serve(ctx context.Context, l net.Listener, srv *Server) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rpcfront: accept: %w", err)
			}
		}
		go srv.handleConn(ctx, conn)
	}
}

func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	stream := jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{})
	rpcConn := jsonrpc2.NewConn(ctx, stream, srv)
	<-rpcConn.DisconnectNotify()
}

// Handle implements jsonrpc2.Handler, dispatching by method name exactly
// as the teacher's rpcServer.Handle does.
func (srv *Server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	klog.V(2).Infof("rpcfront: handling %s", req.Method)

	result, err := srv.dispatch(ctx, req)
	if err != nil {
		replyError(ctx, conn, req.ID, err)
		return
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		klog.Errorf("rpcfront: replying to %s: %v", req.Method, err)
	}
}

func (srv *Server) dispatch(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case methodPing:
		return "pong", nil
	case methodQuery:
		var p QueryParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return srv.query(ctx, p)
	case methodSimilar:
		var p SimilarParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return srv.similar(ctx, p)
	case methodSimilarByHash:
		var p SimilarByHashParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return srv.similarByHash(ctx, p)
	case methodGet:
		var p GetParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return srv.get(ctx, p)
	case methodUpdate:
		var p UpdateParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return srv.update(ctx, p)
	case methodDelete:
		var p DeleteParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return nil, srv.delete(ctx, p)
	case methodCompleteUIDPrefix:
		var p PrefixParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		return srv.completeUIDPrefix(ctx, p)
	case methodTagComplete:
		var p PrefixParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		tags, err := srv.Engine.TagComplete(ctx, p.Prefix)
		if err != nil {
			return nil, err
		}
		return StringListResult{Values: tags}, nil
	case methodFindDuplicates:
		return srv.findDuplicates(ctx)
	default:
		return nil, fmt.Errorf("rpcfront: unknown method %q", req.Method)
	}
}

func (srv *Server) query(ctx context.Context, p QueryParams) (QueryResult, error) {
	uids, err := srv.Engine.Query(ctx, p.toOptions())
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{UIDs: uidsToStrings(uids)}, nil
}

func (srv *Server) similar(ctx context.Context, p SimilarParams) ([]SimilarityEntry, error) {
	uid, err := uuid.Parse(p.UID)
	if err != nil {
		return nil, fmt.Errorf("rpcfront: invalid uid %q: %w", p.UID, err)
	}
	results, err := srv.Engine.Similar(ctx, uid, p.Threshold, p.Limit)
	if err != nil {
		return nil, err
	}
	return similarityResultsToWire(results), nil
}

func (srv *Server) similarByHash(ctx context.Context, p SimilarByHashParams) ([]SimilarityEntry, error) {
	h, err := catalog.ParseHashHex(p.Hash)
	if err != nil {
		return nil, err
	}
	results, err := srv.Engine.SimilarByHash(ctx, h, p.Threshold, p.Limit)
	if err != nil {
		return nil, err
	}
	return similarityResultsToWire(results), nil
}

func (srv *Server) get(ctx context.Context, p GetParams) (RecordWire, error) {
	uid, err := uuid.Parse(p.UID)
	if err != nil {
		return RecordWire{}, fmt.Errorf("rpcfront: invalid uid %q: %w", p.UID, err)
	}
	srv.Lock.Lock()
	rec, err := srv.Catalog.Get(ctx, uid)
	srv.Lock.Unlock()
	if err != nil {
		return RecordWire{}, err
	}
	return recordToWire(rec, srv.HashBits), nil
}

func (srv *Server) update(ctx context.Context, p UpdateParams) (RecordWire, error) {
	rec, err := wireToRecord(p.Record)
	if err != nil {
		return RecordWire{}, err
	}
	if err := srv.Synchronizer.SaveRecord(ctx, rec); err != nil {
		return RecordWire{}, err
	}
	return recordToWire(rec, srv.HashBits), nil
}

func (srv *Server) delete(ctx context.Context, p DeleteParams) error {
	uid, err := uuid.Parse(p.UID)
	if err != nil {
		return fmt.Errorf("rpcfront: invalid uid %q: %w", p.UID, err)
	}
	return srv.Synchronizer.DeleteRecord(ctx, uid)
}

func (srv *Server) completeUIDPrefix(ctx context.Context, p PrefixParams) (StringListResult, error) {
	srv.Lock.Lock()
	uids, err := srv.Catalog.CompleteUIDPrefix(ctx, p.Prefix)
	srv.Lock.Unlock()
	if err != nil {
		return StringListResult{}, err
	}
	return StringListResult{Values: uidsToStrings(uids)}, nil
}

func (srv *Server) findDuplicates(ctx context.Context) (DuplicatesResult, error) {
	srv.Lock.Lock()
	groups, err := srv.Catalog.FindDuplicates(ctx)
	srv.Lock.Unlock()
	if err != nil {
		return DuplicatesResult{}, err
	}
	out := make(map[string][]string, len(groups))
	for hash, uids := range groups {
		out[hash] = uidsToStrings(uids)
	}
	return DuplicatesResult{Groups: out}, nil
}

func uidsToStrings(uids []uuid.UUID) []string {
	out := make([]string, len(uids))
	for i, u := range uids {
		out[i] = u.String()
	}
	return out
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return fmt.Errorf("rpcfront: method %q requires params", req.Method)
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return fmt.Errorf("rpcfront: decoding params for %q: %w", req.Method, err)
	}
	return nil
}

// replyError converts a handler error into a jsonrpc2.Error reply whose
// Message is err.Error(): the full wrapped message, including any
// context (uids, file paths) added along the way. No trace is sent.
func replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, err error) {
	sendErr := conn.ReplyWithError(ctx, id, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeInternalError,
		Message: err.Error(),
	})
	if sendErr != nil {
		klog.Errorf("rpcfront: sending error reply: %v", sendErr)
	}
}
