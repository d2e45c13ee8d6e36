package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/sgp4d/internal/metrics"
)

// writeWindow is how long a single write may block a slow client.
const writeWindow = 30 * time.Second

var keepaliveFrame = []byte(":\n\n")

// client frames SSE messages onto one connection. Every frame is written with
// a fresh deadline and flushed immediately.
type client struct {
	w      io.Writer
	rc     *http.ResponseController
	ip     string
	logger *slog.Logger

	buf      bytes.Buffer
	messages int64
	bytes    int64
}

// sendJSON sends v as a single-line data frame.
func (c *client) sendJSON(v any) error {
	c.buf.Reset()
	c.buf.WriteString("data: ")
	// Encode appends a newline, which ends the data line.
	if err := json.NewEncoder(&c.buf).Encode(v); err != nil {
		return fmt.Errorf("encoding %T: %w", v, err)
	}
	c.buf.WriteByte('\n')

	if err := c.flush(c.buf.Bytes(), true); err != nil {
		return err
	}
	c.messages++
	return nil
}

// sendKeepalive writes an SSE comment so proxies keep the connection open.
func (c *client) sendKeepalive() error {
	if err := c.flush(keepaliveFrame, false); err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	return nil
}

// sendRetry sets the client's reconnect delay.
func (c *client) sendRetry(ms int) error {
	frame := strconv.AppendInt([]byte("retry: "), int64(ms), 10)
	return c.flush(append(frame, '\n', '\n'), false)
}

func (c *client) flush(frame []byte, message bool) error {
	if err := c.rc.SetWriteDeadline(time.Now().Add(writeWindow)); err != nil {
		c.logger.Debug("could not set write deadline", "remote_ip", c.ip, "error", err)
	}
	n, err := c.w.Write(frame)
	c.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("write to %s: %w", c.ip, err)
	}
	if err := c.rc.Flush(); err != nil {
		return fmt.Errorf("flush to %s: %w", c.ip, err)
	}
	metrics.RecordStreamWrite(n, message)
	return nil
}
