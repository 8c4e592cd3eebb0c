// Package amqprpc captions images through a model worker reached over
// RabbitMQ. Each request is published to a durable request queue with a
// correlation id and a private reply queue; the worker runs the pretrained
// model and publishes the caption back.
package amqprpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chriskillpack/blurb/captioner"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultQueue = "caption_requests"

// ErrWorker wraps failures reported by the model worker itself.
var ErrWorker = errors.New("caption worker error")

// Request is the message body published to the request queue.
type Request struct {
	Image         []byte           `json:"image"`
	Model         string           `json:"model"`
	Params        captioner.Params `json:"params"`
	Device        string           `json:"device"`
	HalfPrecision bool             `json:"half_precision"`
}

// Reply is the message body the worker publishes to the reply queue.
type Reply struct {
	Caption string `json:"caption"`
	Error   string `json:"error,omitempty"`
}

type rpc struct {
	conn   *amqp.Connection
	queue  string
	model  string
	device string
	logger *slog.Logger
}

var _ captioner.Captioner = &rpc{}

type Options struct {
	URL    string
	Queue  string
	Model  string
	Device string
	Logger *slog.Logger
}

// Dial connects to the broker and declares the request queue.
func Dial(opts Options) (*rpc, error) {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		opts.Queue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", opts.Queue, err)
	}
	opts.Logger.Info("Declared request queue", "queue", opts.Queue)

	return &rpc{
		conn:   conn,
		queue:  opts.Queue,
		model:  opts.Model,
		device: opts.Device,
		logger: opts.Logger,
	}, nil
}

func (r *rpc) Name() string { return "amqp" }

func (r *rpc) Model() string { return r.model }

func (r *rpc) IsHealthy(ctx context.Context) bool {
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *rpc) Close() error {
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}

func (r *rpc) Caption(ctx context.Context, image []byte, p captioner.Params) (string, error) {
	// Channels are not shared between goroutines, each call gets its own.
	ch, err := r.conn.Channel()
	if err != nil {
		return "", fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	// Declare a temporary, exclusive, auto-delete queue for the reply
	q, err := ch.QueueDeclare(
		"",    // name: "" generates a unique name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare reply queue: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		q.Name, // queue
		"",     // consumer tag
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return "", fmt.Errorf("consume reply queue: %w", err)
	}

	body, err := EncodeRequest(Request{
		Image:         image,
		Model:         r.model,
		Params:        p,
		Device:        r.device,
		HalfPrecision: r.device == "cuda",
	})
	if err != nil {
		return "", err
	}

	corrID := uuid.NewString()
	pub := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       q.Name,
		Timestamp:     time.Now(),
		Body:          body,
	}
	if dl, ok := ctx.Deadline(); ok {
		// Let the broker drop requests nobody will wait for.
		if ms := time.Until(dl).Milliseconds(); ms > 0 {
			pub.Expiration = fmt.Sprint(ms)
		}
	}
	if err := ch.PublishWithContext(ctx, "", r.queue, false, false, pub); err != nil {
		return "", fmt.Errorf("publish request: %w", err)
	}
	r.logger.Debug("Sent caption request", "correlation_id", corrID, "queue", r.queue)

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				return "", fmt.Errorf("reply queue closed")
			}
			if d.CorrelationId != corrID {
				r.logger.Warn("Ignoring reply with mismatched correlation id", "want", corrID, "got", d.CorrelationId)
				continue
			}
			return DecodeReply(d.Body)

		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// EncodeRequest serializes a request message.
func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeReply parses a worker reply into the caption or the worker's error.
func DecodeReply(body []byte) (string, error) {
	var reply Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("decode reply: %w", err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrWorker, reply.Error)
	}
	if reply.Caption == "" {
		return "", captioner.ErrEmptyCaption
	}
	return reply.Caption, nil
}
