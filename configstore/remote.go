package configstore

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ascend/memfabric-hybrid/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireOp names the operation carried in a remote request, dispatched by
// Server.handle to the wrapped local Backend.
type wireOp string

const (
	opGet     wireOp = "get"
	opPut     wireOp = "put"
	opDelete  wireOp = "delete"
	opExist   wireOp = "exist"
	opAcquire wireOp = "acquire"
	opTry     wireOp = "try"
	opRelease wireOp = "release"
)

type wireRequest struct {
	Op      wireOp        `json:"op"`
	Key     string        `json:"key"`
	Value   []byte        `json:"value,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

type wireReply struct {
	Code  ErrorCode `json:"code"`
	Value []byte    `json:"value,omitempty"`
	Exist bool      `json:"exist,omitempty"`
}

// writeFrame/readFrame length-prefix each JSON message so Server and
// RemoteStore can share one persistent connection without a line delimiter
// colliding with value bytes.
func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Server exposes a local Backend over a plain length-prefixed JSON-over-TCP
// protocol, the "remote" counterpart to MemStore (§4.8/§9: the config store
// is pluggable between local and networked backends, e.g. etcd/redis in the
// original; this fabric's remote backend is a thin wire shim over any local
// Backend rather than a third-party KV client).
type Server struct {
	ln      net.Listener
	backend Backend
}

// Serve wraps backend and accepts connections on addr until the listener
// is closed.
func Serve(addr string, backend Backend) (*Server, error) {
	const op = "configstore.Serve"
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, newErr(op, CodeIOError, err)
	}
	s := &Server{ln: ln, backend: backend}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		raw, err := readFrame(r)
		if err != nil {
			return
		}
		var req wireRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		reply := s.dispatch(req)
		out, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := writeFrame(conn, out); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req wireRequest) wireReply {
	switch req.Op {
	case opGet:
		v, err := s.backend.Get(req.Key)
		return wireReply{Code: CodeOf(err), Value: v}
	case opPut:
		err := s.backend.Put(req.Key, req.Value, req.TTL)
		return wireReply{Code: CodeOf(err)}
	case opDelete:
		err := s.backend.Delete(req.Key)
		return wireReply{Code: CodeOf(err)}
	case opExist:
		ok, err := s.backend.Exist(req.Key)
		return wireReply{Code: CodeOf(err), Exist: ok}
	case opAcquire:
		err := s.backend.AcquireDistributedLock(req.Key)
		return wireReply{Code: CodeOf(err)}
	case opTry:
		err := s.backend.TryAcquireDistributedLock(req.Key, req.Timeout)
		return wireReply{Code: CodeOf(err)}
	case opRelease:
		err := s.backend.ReleaseDistributedLock(req.Key)
		return wireReply{Code: CodeOf(err)}
	default:
		return wireReply{Code: CodeInvalidMessage}
	}
}

// RemoteStore is a Backend that forwards every call to a Server over TCP.
// It dials a fresh connection per call: config-store traffic is low-rate
// bootstrap/rendezvous chatter (§4.8), not a data-path hot loop, so there is
// no connection pool to manage.
type RemoteStore struct {
	addr           string
	connectTimeout time.Duration
}

// NewRemoteStore builds a client of the Server listening at addr.
func NewRemoteStore(addr string) *RemoteStore {
	return &RemoteStore{addr: addr, connectTimeout: time.Duration(cmn.GCO.Get().Timeout.ConnectTimeout)}
}

func (r *RemoteStore) Name() string { return "RemoteStore" }

func (r *RemoteStore) IsDistributed() bool { return true }
func (r *RemoteStore) SupportsTTL() bool   { return true }

func (r *RemoteStore) call(req wireRequest) (wireReply, error) {
	const op = "configstore.RemoteStore.call"
	conn, err := net.DialTimeout("tcp", r.addr, r.connectTimeout)
	if err != nil {
		return wireReply{}, newErr(op, CodeIOError, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return wireReply{}, newErr(op, CodeInvalidMessage, err)
	}
	if err := writeFrame(conn, payload); err != nil {
		return wireReply{}, newErr(op, CodeIOError, err)
	}
	raw, err := readFrame(bufio.NewReader(conn))
	if err != nil {
		return wireReply{}, newErr(op, CodeIOError, err)
	}
	var reply wireReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return wireReply{}, newErr(op, CodeInvalidMessage, err)
	}
	return reply, nil
}

func (r *RemoteStore) Get(key string) ([]byte, error) {
	const op = "configstore.RemoteStore.Get"
	reply, err := r.call(wireRequest{Op: opGet, Key: key})
	if err != nil {
		return nil, err
	}
	if reply.Code != CodeSuccess {
		return nil, newErr(op, reply.Code, nil)
	}
	return reply.Value, nil
}

func (r *RemoteStore) Put(key string, value []byte, ttl time.Duration) error {
	const op = "configstore.RemoteStore.Put"
	reply, err := r.call(wireRequest{Op: opPut, Key: key, Value: value, TTL: ttl})
	if err != nil {
		return err
	}
	if reply.Code != CodeSuccess {
		return newErr(op, reply.Code, nil)
	}
	return nil
}

func (r *RemoteStore) Delete(key string) error {
	const op = "configstore.RemoteStore.Delete"
	reply, err := r.call(wireRequest{Op: opDelete, Key: key})
	if err != nil {
		return err
	}
	if reply.Code != CodeSuccess {
		return newErr(op, reply.Code, nil)
	}
	return nil
}

func (r *RemoteStore) Exist(key string) (bool, error) {
	reply, err := r.call(wireRequest{Op: opExist, Key: key})
	if err != nil {
		return false, err
	}
	return reply.Exist, nil
}

// Clear is not exposed remotely: the original reserves it for local
// backends only, and the wire protocol deliberately has no opClear.
func (r *RemoteStore) Clear() {}

func (r *RemoteStore) AcquireDistributedLock(name string) error {
	const op = "configstore.RemoteStore.AcquireDistributedLock"
	reply, err := r.call(wireRequest{Op: opAcquire, Key: name})
	if err != nil {
		return err
	}
	if reply.Code != CodeSuccess {
		return newErr(op, reply.Code, nil)
	}
	return nil
}

func (r *RemoteStore) TryAcquireDistributedLock(name string, timeout time.Duration) error {
	const op = "configstore.RemoteStore.TryAcquireDistributedLock"
	reply, err := r.call(wireRequest{Op: opTry, Key: name, Timeout: timeout})
	if err != nil {
		return err
	}
	if reply.Code != CodeSuccess {
		return newErr(op, reply.Code, nil)
	}
	return nil
}

func (r *RemoteStore) ReleaseDistributedLock(name string) error {
	const op = "configstore.RemoteStore.ReleaseDistributedLock"
	reply, err := r.call(wireRequest{Op: opRelease, Key: name})
	if err != nil {
		return err
	}
	if reply.Code != CodeSuccess {
		return newErr(op, reply.Code, nil)
	}
	return nil
}
