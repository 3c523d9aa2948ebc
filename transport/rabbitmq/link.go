package rabbitmq

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/linkbridge/transport"
)

// ErrNacked is the rejection reason for a negative publisher confirm.
var ErrNacked = errors.New("message nacked by broker")

// Link publishes on one confirm-mode channel.
type Link struct {
	name     string
	exchange string
	key      string
	window   int

	conn   Conn
	ch     Channel
	events *transport.EventStream
	logger watermill.LoggerAdapter

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

func newLink(name, exchange, key string, window int, conn Conn, ch Channel, logger watermill.LoggerAdapter) *Link {
	l := &Link{
		name:     name,
		exchange: exchange,
		key:      key,
		window:   window,
		conn:     conn,
		ch:       ch,
		events:   transport.NewEventStream(16),
		logger:   logger.With(watermill.LogFields{"link": name}),
		done:     make(chan struct{}),
	}

	// Notification channels are written by the client's reader goroutine;
	// buffering keeps a slow watcher from stalling it on close.
	flow := ch.NotifyFlow(make(chan bool, 1))
	chClose := ch.NotifyClose(make(chan *amqp091.Error, 1))
	connClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
	blocked := conn.NotifyBlocked(make(chan amqp091.Blocking, 1))

	l.events.Emit(transport.CreditEvent(window))

	l.wg.Add(1)
	go l.watch(flow, blocked, chClose, connClose)
	return l
}

func (l *Link) watch(flow <-chan bool, blocked <-chan amqp091.Blocking, chClose, connClose <-chan *amqp091.Error) {
	defer l.wg.Done()

	flowOpen, isBlocked := true, false
	credit := func() int {
		if !flowOpen || isBlocked {
			return 0
		}
		return l.window
	}

	for {
		select {
		case <-l.done:
			return
		case active, ok := <-flow:
			if !ok {
				flow = nil
				continue
			}
			flowOpen = active
			l.logger.Debug("Channel flow changed", watermill.LogFields{"active": active})
			l.events.Emit(transport.CreditEvent(credit()))
		case b, ok := <-blocked:
			if !ok {
				blocked = nil
				continue
			}
			isBlocked = b.Active
			l.logger.Info("Connection blocked state changed", watermill.LogFields{"blocked": b.Active, "reason": b.Reason})
			l.events.Emit(transport.CreditEvent(credit()))
		case e, ok := <-chClose:
			if !ok {
				chClose = nil
				continue
			}
			if e != nil && !l.closed.Load() {
				l.logger.Error("Channel closed by broker", e, nil)
				l.events.Emit(transport.ErrorEvent(transport.ErrorInfo{
					Scope:  transport.ScopeLink,
					Code:   e.Code,
					Reason: e.Reason,
				}))
			}
		case e, ok := <-connClose:
			if !ok {
				connClose = nil
				continue
			}
			if e != nil && !l.closed.Load() {
				l.logger.Error("Connection closed", e, nil)
				l.events.Emit(transport.ErrorEvent(transport.ErrorInfo{
					Scope:  transport.ScopeConnection,
					Code:   e.Code,
					Reason: e.Reason,
				}))
			}
		}
	}
}

// Send publishes msg and waits for the broker's confirm. A nack while the
// channel is open is a rejection; confirms released by a dying channel are
// link failures.
func (l *Link) Send(ctx context.Context, msg transport.Message) (transport.Delivery, error) {
	if l.closed.Load() {
		return transport.Delivery{}, transport.NewLinkError(transport.ScopeLink, transport.ErrLinkClosed)
	}
	if l.ch.IsClosed() {
		return transport.Delivery{}, l.failure(amqp091.ErrClosed)
	}

	conf, err := l.ch.Publish(ctx, l.exchange, l.key, l.publishing(msg))
	if err != nil {
		return transport.Delivery{}, l.failure(err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return transport.Delivery{}, err
	}
	if !acked {
		if l.closed.Load() || l.ch.IsClosed() {
			return transport.Delivery{}, l.failure(amqp091.ErrClosed)
		}
		return transport.Delivery{}, &transport.RejectedError{Reason: ErrNacked.Error()}
	}

	return transport.Delivery{ID: strconv.FormatUint(conf.DeliveryTag(), 10), Settled: true}, nil
}

func (l *Link) publishing(msg transport.Message) amqp091.Publishing {
	headers := amqp091.Table{}
	for k, v := range msg.Metadata {
		headers[k] = v
	}
	return amqp091.Publishing{
		Headers:       headers,
		ContentType:   "text/plain",
		DeliveryMode:  amqp091.Persistent,
		CorrelationId: msg.Metadata["correlation_id"],
		MessageId:     msg.ID,
		Timestamp:     time.Now(),
		AppId:         l.name,
		Body:          msg.Body,
	}
}

func (l *Link) failure(err error) error {
	scope := transport.ScopeLink
	if l.conn.IsClosed() {
		scope = transport.ScopeConnection
	}
	return amqpFailure(scope, err)
}

func (l *Link) Events() <-chan transport.Event { return l.events.C() }

// Close stops the watcher and closes the channel.
func (l *Link) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
		l.events.Close()
		if !l.ch.IsClosed() {
			if err := l.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
				l.closeErr = err
			}
		}
		l.wg.Wait()
	})
	return l.closeErr
}
