package pipe

import (
	"io"
	"net"
	"sync"
)

// tcpRendezvous has the producer listen and the consumer dial.
type tcpRendezvous struct {
	addr string

	mu sync.Mutex
	ln net.Listener
}

func (t *tcpRendezvous) listener() (net.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return t.ln, nil
	}
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return nil, err
	}
	t.ln = ln
	return ln, nil
}

func (t *tcpRendezvous) openWriter() (io.WriteCloser, error) {
	ln, err := t.listener()
	if err != nil {
		return nil, err
	}
	conn, err := ln.Accept()
	if err != nil {
		t.mu.Lock()
		if t.ln == ln {
			t.ln.Close()
			t.ln = nil
		}
		t.mu.Unlock()
		return nil, err
	}
	return conn, nil
}

func (t *tcpRendezvous) openReader() (io.ReadCloser, error) {
	return net.Dial("tcp", t.addr)
}

func (t *tcpRendezvous) wakeWriter() {
	t.close()
}

func (t *tcpRendezvous) wakeReader() {}

func (t *tcpRendezvous) remove() error { return nil }

func (t *tcpRendezvous) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	err := t.ln.Close()
	t.ln = nil
	return err
}

func (t *tcpRendezvous) String() string { return "tcp://" + t.addr }
