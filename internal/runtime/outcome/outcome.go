// Package outcome defines the result of one forward and maps it to an HTTP
// response.
package outcome

import (
	"fmt"
	"net/http"
	"time"

	"github.com/drblury/linkbridge/internal/runtime/jsoncodec"
)

// Outcome is the resolution of one forward. The set of variants is closed:
// Accepted, Rejected, TimedOut and LinkError.
type Outcome interface {
	// Label is the metric label of the variant.
	Label() string
	// ID is the message id the outcome belongs to.
	ID() string
	isOutcome()
}

// Accepted means the broker took the message.
type Accepted struct {
	MessageID  string
	DeliveryID string
	Settled    bool
}

// Rejected means the broker, or admission control, refused the message.
type Rejected struct {
	MessageID string
	Reason    string
}

// TimedOut means no broker result arrived in time. Whether the message was
// delivered is unknown.
type TimedOut struct {
	MessageID string
	After     time.Duration
}

// LinkError means the link, its session or its connection failed.
type LinkError struct {
	MessageID string
	Detail    string
}

func (Accepted) Label() string  { return "accepted" }
func (Rejected) Label() string  { return "rejected" }
func (TimedOut) Label() string  { return "timed_out" }
func (LinkError) Label() string { return "link_error" }

func (o Accepted) ID() string  { return o.MessageID }
func (o Rejected) ID() string  { return o.MessageID }
func (o TimedOut) ID() string  { return o.MessageID }
func (o LinkError) ID() string { return o.MessageID }

func (Accepted) isOutcome()  {}
func (Rejected) isOutcome()  {}
func (TimedOut) isOutcome()  {}
func (LinkError) isOutcome() {}

const (
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// Response is the HTTP rendering of an outcome.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

type failureBody struct {
	Outcome   string `json:"outcome"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Map renders o as an HTTP response. connection names the broker connection
// in success bodies. Map is total: anything it does not know becomes a 500.
func Map(o Outcome, connection string) Response {
	switch v := o.(type) {
	case Accepted:
		body := fmt.Sprintf("[%s] await sendMessage -> message_id: %s, Delivery id: %s, settled: %t",
			connection, v.MessageID, v.DeliveryID, v.Settled)
		return Response{Status: http.StatusOK, ContentType: ContentTypeText, Body: []byte(body)}
	case Rejected:
		return failure(failureBody{Outcome: v.Label(), MessageID: v.MessageID, Reason: v.Reason})
	case TimedOut:
		return failure(failureBody{Outcome: v.Label(), MessageID: v.MessageID, TimeoutMS: v.After.Milliseconds()})
	case LinkError:
		return failure(failureBody{Outcome: v.Label(), MessageID: v.MessageID, Detail: v.Detail})
	default:
		return failure(failureBody{Outcome: "unknown"})
	}
}

// Status is the HTTP status Map would produce for o.
func Status(o Outcome) int {
	if _, ok := o.(Accepted); ok {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// Label returns the metric label of o, "unknown" for nil.
func Label(o Outcome) string {
	if o == nil {
		return "unknown"
	}
	return o.Label()
}

func failure(body failureBody) Response {
	data, err := jsoncodec.Marshal(body)
	if err != nil {
		data = []byte(`{"outcome":"unknown"}`)
	}
	return Response{Status: http.StatusInternalServerError, ContentType: ContentTypeJSON, Body: data}
}
