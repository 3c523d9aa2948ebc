// Package bridge forwards messages onto the single outbound link, one at a
// time, and resolves each forward to exactly one outcome.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	rterrors "github.com/drblury/linkbridge/internal/runtime/errors"
	"github.com/drblury/linkbridge/internal/runtime/ids"
	"github.com/drblury/linkbridge/internal/runtime/linkstate"
	"github.com/drblury/linkbridge/internal/runtime/logging"
	"github.com/drblury/linkbridge/internal/runtime/metrics"
	"github.com/drblury/linkbridge/internal/runtime/outcome"
	"github.com/drblury/linkbridge/transport"
)

const (
	// DefaultTimeout bounds a forward when neither Options nor the caller
	// give a timeout.
	DefaultTimeout = 10 * time.Second

	// NoCreditReason is the rejection reason when admission control refuses
	// a send.
	NoCreditReason = "no send credit available"

	// MetadataCorrelationID carries a ULID on every message.
	MetadataCorrelationID = "correlation_id"

	tracerName = "github.com/drblury/linkbridge/bridge"
)

// Recorder receives one sample per forward. *metrics.Metrics implements it.
type Recorder interface {
	Record(metrics.Sample)
}

// Options configure New.
type Options struct {
	Link     transport.Link
	State    *linkstate.State
	Identity string
	// Timeout is used when Forward is called with a non-positive timeout.
	Timeout time.Duration
	// RequireCredit rejects sends while the broker reports zero credit.
	RequireCredit bool
	Metrics       Recorder
	Logger        logging.ServiceLogger
	Tracer        trace.Tracer
}

// Bridge owns the outbound link. At most one Send is in flight at any time.
type Bridge struct {
	link          transport.Link
	state         *linkstate.State
	seq           *ids.Sequence
	identity      string
	timeout       time.Duration
	requireCredit bool
	metrics       Recorder
	logger        logging.ServiceLogger
	tracer        trace.Tracer

	// gate holds a token while a send is in flight. The send goroutine
	// releases it when the link call returns.
	gate chan struct{}
}

type sendResult struct {
	delivery transport.Delivery
	err      error
}

// New validates opts and creates a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Link == nil {
		return nil, rterrors.ErrLinkRequired
	}
	if opts.State == nil {
		return nil, rterrors.ErrStateRequired
	}
	if opts.Logger == nil {
		return nil, rterrors.ErrLoggerRequired
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Bridge{
		link:          opts.Link,
		state:         opts.State,
		seq:           ids.NewSequence(opts.Identity),
		identity:      opts.Identity,
		timeout:       opts.Timeout,
		requireCredit: opts.RequireCredit,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With(logging.LogFields{"component": "bridge", "identity": opts.Identity}),
		tracer:        opts.Tracer,
		gate:          make(chan struct{}, 1),
	}, nil
}

// NewMessage wraps payload in a message with a fresh id.
func (b *Bridge) NewMessage(payload []byte) transport.Message {
	return b.message(b.seq.Next(), payload)
}

// DefaultMessage builds the message sent for a bare request. Its body names
// the message id and the identity of this process.
func (b *Bridge) DefaultMessage() transport.Message {
	id := b.seq.Next()
	return b.message(id, []byte(id+": from "+b.identity))
}

func (b *Bridge) message(id string, payload []byte) transport.Message {
	return transport.Message{
		ID:       id,
		Body:     payload,
		Metadata: map[string]string{MetadataCorrelationID: ids.CreateULID()},
	}
}

// Forward sends payload as a new message. See ForwardMessage.
func (b *Bridge) Forward(ctx context.Context, payload []byte, timeout time.Duration) outcome.Outcome {
	return b.ForwardMessage(ctx, b.NewMessage(payload), timeout)
}

// ForwardMessage sends msg on the link and waits for the broker, the
// timeout or a link failure, whichever comes first. Waiting for a previous
// send counts against the timeout. Cancellation of ctx is ignored: only the
// timeout bounds the wait. The link call gets the same deadline, so an
// abandoned send always returns and frees the link for the next one.
func (b *Bridge) ForwardMessage(ctx context.Context, msg transport.Message, timeout time.Duration) (result outcome.Outcome) {
	if timeout <= 0 {
		timeout = b.timeout
	}
	start := time.Now()
	ctx, span := b.tracer.Start(context.WithoutCancel(ctx), "bridge.Forward",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.Int64("bridge.timeout_ms", timeout.Milliseconds()),
		),
	)
	snap := b.state.Snapshot()
	credit := snap.Credit

	defer func() {
		status := outcome.Status(result)
		span.SetAttributes(
			attribute.String("bridge.outcome", outcome.Label(result)),
			attribute.Int("link.credit", credit),
		)
		if status != http.StatusOK {
			span.SetStatus(codes.Error, outcome.Label(result))
		}
		span.End()
		if b.metrics != nil {
			b.metrics.Record(metrics.Sample{
				Status:   status,
				Outcome:  outcome.Label(result),
				Duration: time.Since(start),
				Credit:   credit,
			})
		}
	}()

	if !snap.Healthy {
		return b.linkError(msg.ID, snap)
	}
	if b.requireCredit && snap.Credit == 0 {
		return outcome.Rejected{MessageID: msg.ID, Reason: NoCreditReason}
	}

	deadline := start.Add(timeout)
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case b.gate <- struct{}{}:
	case <-timer.C:
		return outcome.TimedOut{MessageID: msg.ID, After: timeout}
	case <-b.state.Broken():
		return b.linkError(msg.ID, b.state.Snapshot())
	}

	credit = b.state.Credit()
	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	done := make(chan sendResult, 1)
	go b.send(sendCtx, cancel, msg, done)

	select {
	case res := <-done:
		return b.resolve(msg.ID, res, timeout)
	case <-timer.C:
		go b.discardLate(msg.ID, done)
		return outcome.TimedOut{MessageID: msg.ID, After: timeout}
	case <-b.state.Broken():
		go b.discardLate(msg.ID, done)
		return b.linkError(msg.ID, b.state.Snapshot())
	}
}

// send runs the link call and releases the gate when it returns.
func (b *Bridge) send(ctx context.Context, cancel context.CancelFunc, msg transport.Message, done chan<- sendResult) {
	defer func() { <-b.gate }()
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			done <- sendResult{err: transport.NewLinkError(transport.ScopeLink, fmt.Errorf("send panicked: %v", r))}
		}
	}()
	delivery, err := b.link.Send(ctx, msg)
	done <- sendResult{delivery: delivery, err: err}
}

func (b *Bridge) discardLate(id string, done <-chan sendResult) {
	res := <-done
	fields := logging.LogFields{"message_id": id, "delivery_id": res.delivery.ID}
	if res.err != nil {
		fields["error"] = res.err.Error()
	}
	b.logger.Debug("Discarding late send result", fields)
}

func (b *Bridge) resolve(id string, res sendResult, timeout time.Duration) outcome.Outcome {
	if res.err == nil {
		return outcome.Accepted{MessageID: id, DeliveryID: res.delivery.ID, Settled: res.delivery.Settled}
	}

	if errors.Is(res.err, context.DeadlineExceeded) {
		return outcome.TimedOut{MessageID: id, After: timeout}
	}

	var rejected *transport.RejectedError
	if errors.As(res.err, &rejected) {
		return outcome.Rejected{MessageID: id, Reason: rejected.Reason}
	}

	var linkErr *transport.LinkError
	if errors.As(res.err, &linkErr) {
		b.logger.Error("Link failed during send", res.err, logging.LogFields{"message_id": id, "scope": string(linkErr.Info.Scope)})
		return outcome.LinkError{MessageID: id, Detail: linkErr.Error()}
	}

	// Untyped adapter errors are refusals of this message only.
	return outcome.Rejected{MessageID: id, Reason: res.err.Error()}
}

func (b *Bridge) linkError(id string, snap linkstate.Snapshot) outcome.Outcome {
	detail := "link unavailable"
	if snap.LastError != nil {
		detail = snap.LastError.String()
	}
	return outcome.LinkError{MessageID: id, Detail: detail}
}

// Timeout is the timeout used when Forward is given none.
func (b *Bridge) Timeout() time.Duration {
	return b.timeout
}

// Identity returns the identity used for message ids.
func (b *Bridge) Identity() string {
	return b.identity
}
