package orbslam

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"

	"github.com/edaniels/golog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"go.viam.com/utils/pexec"
)

// NewProcessWorker returns a Worker that runs the given binary as a managed
// child process, one process per trial. The harness side listens on a local
// port and the binary is told where to connect; the feed travels over the
// write half of the connection and the return channel over the read half, as
// newline-delimited JSON. Stopping the managed process escalates to a kill,
// so cancelling the worker context is always sufficient to guarantee the
// process is gone.
func NewProcessWorker(binary string, logger golog.Logger) Worker {
	return func(ctx context.Context, cfg WorkerConfig, feed <-chan FeedItem, out chan<- Message) error {
		port, err := goutils.TryReserveRandomPort()
		if err != nil {
			return errors.Wrap(err, "error reserving worker port")
		}
		addr := "localhost:" + strconv.Itoa(port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrap(err, "error listening for worker connection")
		}
		//nolint:errcheck
		defer listener.Close()

		proc := pexec.NewManagedProcess(pexec.ProcessConfig{
			ID:   "orbslam_worker_" + uuid.NewString(),
			Name: binary,
			Args: []string{
				"-connect=" + addr,
				"-settings=" + cfg.SettingsFile,
				"-vocabulary=" + cfg.VocabularyFile,
				"-mode=" + cfg.Mode.String(),
			},
			Log: true,
		}, logger)
		if err := proc.Start(ctx); err != nil {
			return errors.Wrap(err, "error starting worker process")
		}
		defer func() {
			if err := proc.Stop(); err != nil {
				logger.Errorw("error stopping worker process", "error", err)
			}
		}()

		conn, err := acceptConn(ctx, listener)
		if err != nil {
			return errors.Wrap(err, "worker process never connected")
		}
		//nolint:errcheck
		defer conn.Close()

		return bridgeConn(ctx, conn, feed, out, logger)
	}
}

// acceptConn waits for the worker process to dial back, unblocking if ctx is
// cancelled first.
func acceptConn(ctx context.Context, listener net.Listener) (net.Conn, error) {
	accepted := make(chan struct{})
	defer close(accepted)
	goutils.PanicCapturingGo(func() {
		select {
		case <-ctx.Done():
			//nolint:errcheck
			listener.Close()
		case <-accepted:
		}
	})
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

// bridgeConn adapts the channel protocol onto a connection: feed items are
// encoded onto the write half (a Done frame when the feed closes), worker
// messages are decoded off the read half and forwarded. Returns once the
// worker closes its end after its final message.
func bridgeConn(ctx context.Context, conn net.Conn, feed <-chan FeedItem, out chan<- Message, logger golog.Logger) error {
	// unblock both halves on cancellation
	bridged := make(chan struct{})
	defer close(bridged)
	goutils.PanicCapturingGo(func() {
		select {
		case <-ctx.Done():
			//nolint:errcheck
			conn.Close()
		case <-bridged:
		}
	})

	goutils.PanicCapturingGo(func() {
		enc := json.NewEncoder(conn)
		for {
			select {
			case item, ok := <-feed:
				if !ok {
					if err := enc.Encode(wireFrame{Done: true}); err != nil && ctx.Err() == nil {
						logger.Errorw("error sending end-of-stream to worker", "error", err)
					}
					return
				}
				frame := wireFrame{
					Timestamp: item.Timestamp,
					Pixels:    item.Frame.Pixels,
					Depth:     item.Frame.Depth,
					Right:     item.Frame.RightPixels,
				}
				if err := enc.Encode(frame); err != nil {
					if ctx.Err() == nil {
						logger.Errorw("error sending frame to worker", "error", err)
					}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	dec := json.NewDecoder(bufio.NewReader(conn))
	for {
		var msg wireMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "error decoding worker message")
		}
		select {
		case out <- msg.toMessage():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
