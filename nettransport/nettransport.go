// Package nettransport is the TcpListener/TcpLink/TcpClient trio (§2,
// "supporting only because the transport uses it; not the hard part"): a
// small out-of-band request/reply control channel used for things like
// fetching a peer's exchange descriptor or sending connect/prepare
// messages, distinct from the data-path transports in the transport
// package. Framing reuses aistore's own fasthttp-based intra-cluster
// control plane rather than hand-rolling an HTTP-like protocol.
package nettransport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/ascend/memfabric-hybrid/cmn"
)

// Handler answers one control-plane op with a reply payload or an error;
// the error's string becomes the reply body of a 500 response.
type Handler func(op string, body []byte) ([]byte, error)

// Listener is TcpListener: a fasthttp server dispatching every request's
// path (minus the leading slash) to Handler as op, with the request body
// as payload.
type Listener struct {
	srv *fasthttp.Server
	ln  net.Listener
}

// NewListener binds addr (TLS-wrapped when tlsCfg is non-nil) and starts
// serving h in the background.
func NewListener(addr string, tlsCfg *tls.Config, h Handler) (*Listener, error) {
	const op = "nettransport.NewListener"
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, cmn.ErrTransport(op, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	srv := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			reqOp := string(ctx.Path())
			if len(reqOp) > 0 && reqOp[0] == '/' {
				reqOp = reqOp[1:]
			}
			resp, err := h(reqOp, ctx.PostBody())
			if err != nil {
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetBody([]byte(err.Error()))
				return
			}
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBody(resp)
		},
	}
	l := &Listener{srv: srv, ln: ln}
	go srv.Serve(ln) //nolint:errcheck // Serve's error is discarded; Close reports only Shutdown's error
	return l, nil
}

func (l *Listener) Addr() string { return l.ln.Addr().String() }

func (l *Listener) Close() error {
	return l.srv.Shutdown()
}

// Link is TcpLink: a reusable client bound to one peer address, for
// callers that issue many requests to the same remote entity (e.g. a
// sequence of connect/prepare messages during MemEntity import).
type Link struct {
	client   *fasthttp.Client
	peerAddr string
	scheme   string
}

// NewLink builds a Link to peerAddr; tlsCfg non-nil selects https framing.
func NewLink(peerAddr string, tlsCfg *tls.Config) *Link {
	scheme := "http"
	client := &fasthttp.Client{}
	if tlsCfg != nil {
		scheme = "https"
		client.TLSConfig = tlsCfg
	}
	return &Link{client: client, peerAddr: peerAddr, scheme: scheme}
}

// Call sends op with body and returns the peer's reply, or an error built
// from the peer's 500 body on failure.
func (lk *Link) Call(op string, body []byte, timeout time.Duration) ([]byte, error) {
	const errOp = "nettransport.Link.Call"
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s://%s/%s", lk.scheme, lk.peerAddr, op))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetBody(body)

	if err := lk.client.DoTimeout(req, resp, timeout); err != nil {
		return nil, cmn.ErrTransport(errOp, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, cmn.NewErrf(cmn.KindTransportError, errOp, "peer %s: %s", lk.peerAddr, string(resp.Body()))
	}
	return append([]byte(nil), resp.Body()...), nil
}

// Client is TcpClient: a one-shot call that doesn't keep a Link around,
// for callers that only ever talk to a given peer once (e.g. a single
// descriptor fetch at import time).
func Client(peerAddr string, tlsCfg *tls.Config, op string, body []byte, timeout time.Duration) ([]byte, error) {
	return NewLink(peerAddr, tlsCfg).Call(op, body, timeout)
}
