package pipe

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Consumer reads values written by a Producer. It tolerates the producer
// starting late and restarting: a closed rendezvous is re-attached on the
// next read.
type Consumer struct {
	rv         rendezvous
	logger     *zap.SugaredLogger
	retryDelay time.Duration

	mu     sync.Mutex
	r      io.ReadCloser
	br     *bufio.Reader
	reads  atomic.Int64
	closed atomic.Bool
}

func NewConsumer(endpoint string, logger *zap.SugaredLogger) *Consumer {
	return &Consumer{
		rv:         parseEndpoint(endpoint),
		logger:     logger,
		retryDelay: defaultRetryDelay,
	}
}

// ensureInitialized attaches to the rendezvous, retrying until it succeeds or
// the consumer is closed. An existing attachment is reused.
func (c *Consumer) ensureInitialized() (*bufio.Reader, error) {
	c.mu.Lock()
	if c.br != nil {
		br := c.br
		c.mu.Unlock()
		return br, nil
	}
	c.mu.Unlock()

	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		r, err := c.rv.openReader()
		if err == nil {
			c.mu.Lock()
			if c.closed.Load() {
				c.mu.Unlock()
				r.Close()
				return nil, ErrClosed
			}
			c.r = r
			c.br = bufio.NewReader(r)
			br := c.br
			c.mu.Unlock()
			c.logger.Debugw("pipe attached", "endpoint", c.rv.String())
			return br, nil
		}
		c.logger.Debugw("pipe attach failed, retrying", "endpoint", c.rv.String(), "error", err)
		time.Sleep(c.retryDelay)
	}
}

func (c *Consumer) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r != nil {
		c.r.Close()
	}
	c.r = nil
	c.br = nil
}

// ReadNext blocks until one value is available and returns it decoded.
// Frames are newline-delimited JSON; objects decode to map[string]any.
func (c *Consumer) ReadNext() (any, error) {
	for {
		br, err := c.ensureInitialized()
		if err != nil {
			return nil, err
		}

		line, err := br.ReadBytes('\n')
		if err != nil {
			if c.closed.Load() {
				return nil, ErrClosed
			}
			if err != io.EOF {
				c.logger.Warnw("pipe read failed, re-attaching", "endpoint", c.rv.String(), "error", err)
			}
			c.reset()
			continue
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var v any
		if err := jsonStd.Unmarshal(line, &v); err != nil {
			c.logger.Warnw("dropping malformed pipe frame", "endpoint", c.rv.String(), "error", err)
			continue
		}
		c.reads.Add(1)
		return v, nil
	}
}

// Reads reports how many values have been read.
func (c *Consumer) Reads() int64 {
	return c.reads.Load()
}

// Close detaches the consumer. The FIFO file is removed only when at least
// one value has been read; otherwise it is left for the next session.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	attached := c.r != nil
	c.mu.Unlock()
	if !attached {
		c.rv.wakeReader()
	}
	c.reset()

	if c.reads.Load() > 0 {
		if err := c.rv.remove(); err != nil {
			return err
		}
	}
	return c.rv.close()
}
