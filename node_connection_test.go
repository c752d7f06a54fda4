package redistore

import (
	"errors"
	"testing"
	"time"
)

func TestParseMoved(t *testing.T) {
	host, port, err := parseMoved("MOVED 3999 127.0.0.1:6381")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "127.0.0.1" || port != 6381 {
		t.Errorf("parseMoved = (%q, %d), want (127.0.0.1, 6381)", host, port)
	}
}

func TestParseMovedIPv6Host(t *testing.T) {
	host, port, err := parseMoved("MOVED 3999 ::1:6381")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if host != "::1" || port != 6381 {
		t.Errorf("parseMoved = (%q, %d), want (::1, 6381)", host, port)
	}
}

func TestParseMovedMalformed(t *testing.T) {
	if _, _, err := parseMoved("MOVED garbage"); err == nil {
		t.Error("expected error for malformed MOVED reply")
	}
	if _, _, err := parseMoved("MOVED 3999 no-port-here"); err == nil {
		t.Error("expected error for MOVED target missing a port")
	}
}

func TestSetArgsNX(t *testing.T) {
	args := setArgsNX(0)
	if args.Mode != "NX" {
		t.Errorf("Mode = %q, want NX", args.Mode)
	}
	if !args.ExpireAt.IsZero() {
		t.Error("expected no ExpireAt when exp == 0")
	}

	exp := time.Now().Add(time.Hour).Unix()
	args = setArgsNX(exp)
	if args.ExpireAt.Unix() != exp {
		t.Errorf("ExpireAt = %v, want unix %d", args.ExpireAt, exp)
	}
}

func TestFirstErr(t *testing.T) {
	if firstErr(nil, nil, nil) != nil {
		t.Error("expected nil when all errors are nil")
	}
	sentinel := errors.New("boom")
	if got := firstErr(nil, sentinel, errors.New("ignored")); got != sentinel {
		t.Errorf("firstErr = %v, want %v", got, sentinel)
	}
}

// classifyTestConn builds a NodeConnection whose classify method can be
// exercised without a live Redis, since classify only inspects the error
// value's message/type, never the transport itself.
func classifyTestConn() *NodeConnection {
	return &NodeConnection{logger: defaultLogger()}
}

func TestClassifyMovedError(t *testing.T) {
	nc := classifyTestConn()
	err := nc.classify(nil, errors.New("MOVED 7000 10.0.0.5:6380"))
	re, ok := IsRedirected(err)
	if !ok {
		t.Fatalf("expected *RedirectedError, got %v", err)
	}
	if re.Host != "10.0.0.5" || re.Port != 6380 {
		t.Errorf("got %+v, want host=10.0.0.5 port=6380", re)
	}
}

func TestClassifyClusterDownError(t *testing.T) {
	nc := classifyTestConn()
	err := nc.classify(nil, errors.New("CLUSTERDOWN The cluster is down"))
	if !IsConnectionLost(err) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
}

func TestClassifyGenericErrorReply(t *testing.T) {
	nc := classifyTestConn()
	err := nc.classify(nil, errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"))
	if !IsProtocol(err) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	nc := classifyTestConn()
	if err := nc.classify(nil, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
