package nettransport

import (
	"errors"
	"testing"
	"time"
)

func TestListenerLink_RoundTrip(t *testing.T) {
	h := func(op string, body []byte) ([]byte, error) {
		if op != "fetch-descriptor" {
			return nil, errors.New("unknown op")
		}
		return append([]byte("echo:"), body...), nil
	}
	ln, err := NewListener("127.0.0.1:0", nil, h)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	link := NewLink(ln.Addr(), nil)
	resp, err := link.Call("fetch-descriptor", []byte("rank-0"), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "echo:rank-0" {
		t.Fatalf("got %q", resp)
	}
}

func TestListenerLink_PropagatesHandlerError(t *testing.T) {
	h := func(op string, body []byte) ([]byte, error) {
		return nil, errors.New("boom")
	}
	ln, err := NewListener("127.0.0.1:0", nil, h)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	_, err = Client(ln.Addr(), nil, "connect", nil, 2*time.Second)
	if err == nil {
		t.Fatal("expected error from handler failure")
	}
}
