// Package pipe hands structured values from a local producer process to the
// agent over a named rendezvous: a FIFO path or a tcp:// address.
package pipe

import (
	"errors"
	"io"
	"strings"
)

const DefaultEndpoint = "/tmp/iotc.pipe"

var ErrClosed = errors.New("pipe closed")

// rendezvous is one side-agnostic endpoint implementation.
type rendezvous interface {
	// openWriter blocks until a consumer is attached.
	openWriter() (io.WriteCloser, error)
	// openReader attaches to the producer.
	openReader() (io.ReadCloser, error)
	// wakeWriter releases a producer blocked in openWriter.
	wakeWriter()
	// wakeReader releases a consumer blocked in openReader.
	wakeReader()
	// remove deletes any filesystem resource backing the rendezvous.
	remove() error
	close() error
	String() string
}

func parseEndpoint(endpoint string) rendezvous {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if addr, ok := strings.CutPrefix(endpoint, "tcp://"); ok {
		return &tcpRendezvous{addr: addr}
	}
	return &fifoRendezvous{path: endpoint}
}
