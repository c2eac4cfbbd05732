// Package notify pushes validation results to a Socket.IO server, so a
// dashboard or a job launcher can react to a configuration becoming valid.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/vk/pkcfg/internal/ctxlog"
	"github.com/vk/pkcfg/internal/report"
	"github.com/vk/pkcfg/internal/validate"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	DefaultEvent   = "pkcfg:report"
	DefaultTimeout = 10 * time.Second
)

// Options configures a Notifier.
type Options struct {
	// URL of the server, e.g. http://localhost:3000/socket.io/.
	URL       string
	Namespace string
	// Event is emitted once per report.
	Event string
	// AckEvent, when set, is awaited after the last emit.
	AckEvent           string
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Notifier emits reports over one Socket.IO connection per call.
type Notifier struct {
	opts    Options
	baseURL string
	path    string
}

// Message is the payload of one emitted event.
type Message struct {
	report.Summary
	SentAt time.Time `json:"sent_at"`
}

// New checks opts and fills in defaults.
func New(opts Options) (*Notifier, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("notify URL %q must be absolute", opts.URL)
	}
	if opts.Event == "" {
		opts.Event = DefaultEvent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Namespace == "" {
		opts.Namespace = "/"
	}
	return &Notifier{
		opts:    opts,
		baseURL: fmt.Sprintf("%s://%s", u.Scheme, u.Host),
		path:    u.Path,
	}, nil
}

// Messages builds one message per report.
func Messages(reports []*validate.Report, now time.Time) []Message {
	out := make([]Message, len(reports))
	for i, r := range reports {
		out[i] = Message{Summary: report.Summarize(r), SentAt: now.UTC()}
	}
	return out
}

// NotifyReports emits every report and, when an ack event is configured,
// returns its payload.
func (n *Notifier) NotifyReports(ctx context.Context, reports []*validate.Report) (any, error) {
	msgs := Messages(reports, time.Now())
	payloads := make([]any, len(msgs))
	for i, m := range msgs {
		p, err := toMap(m)
		if err != nil {
			return nil, err
		}
		payloads[i] = p
	}
	return n.Notify(ctx, payloads...)
}

type opResult struct {
	value any
	err   error
}

// Notify connects, emits each payload as the configured event and
// disconnects. The whole exchange is bounded by the timeout.
func (n *Notifier) Notify(ctx context.Context, payloads ...any) (any, error) {
	logger := ctxlog.FromContext(ctx).With("notifier", n.baseURL, "event", n.opts.Event)

	opCtx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	opts := socket.DefaultOptions()
	opts.SetPath(n.path)
	if n.opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	var connected atomic.Bool
	done := make(chan opResult, 1)
	finish := func(r opResult) {
		select {
		case done <- r:
		default:
		}
	}

	manager := socket.NewManager(n.baseURL, opts)
	io := manager.Socket(n.opts.Namespace, opts)
	defer io.Disconnect()

	if n.opts.AckEvent != "" {
		io.Once(types.EventName(n.opts.AckEvent), func(data ...any) {
			var v any
			if len(data) > 0 {
				v = data[0]
			}
			logger.Debug("Acknowledged", "ack", n.opts.AckEvent)
			finish(opResult{value: v})
		})
	}

	io.Once(types.EventName("connect"), func(...any) {
		connected.Store(true)
		logger.Debug("Connected", "sid", io.Id())
		for _, p := range payloads {
			io.Emit(n.opts.Event, p)
		}
		logger.Info("Sent reports", "count", len(payloads))
		if n.opts.AckEvent == "" {
			finish(opResult{})
		}
	})

	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		finish(opResult{err: fmt.Errorf("socket.io connection failed: %w", err)})
	})

	io.Connect()

	select {
	case res := <-done:
		return res.value, res.err
	case <-opCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if connected.Load() {
			return nil, fmt.Errorf("timed out after %v waiting for event %q", n.opts.Timeout, n.opts.AckEvent)
		}
		return nil, fmt.Errorf("timed out after %v waiting for connection to %s", n.opts.Timeout, n.baseURL)
	}
}

// toMap converts a message to the generic form the socket.io encoder
// handles.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
