package realtime

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay is a Broker over Redis Pub/Sub. Every instance publishes its frames
// on one channel and delivers the frames of the others to its local clients.
// Frames published while an instance is disconnected are lost.
type Relay struct {
	rdb     redis.UniversalClient
	channel string
}

var _ Broker = (*Relay)(nil)

// NewRelay creates a Relay on channel.
func NewRelay(rdb redis.UniversalClient, channel string) *Relay {
	return &Relay{rdb: rdb, channel: channel}
}

// Publish sends f to every subscribed instance.
func (r *Relay) Publish(ctx context.Context, f Frame) error {
	if err := r.rdb.Publish(ctx, r.channel, encodeRelayFrame(f)).Err(); err != nil {
		return errors.Wrap(err, "publish")
	}
	return nil
}

// Run feeds frames from other instances into hub until ctx is done.
func (r *Relay) Run(ctx context.Context, hub *Hub) error {
	lg := zctx.From(ctx)

	sub := r.rdb.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	lg.Info("Realtime relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f, err := decodeRelayFrame([]byte(msg.Payload))
			if err != nil {
				lg.Warn("Bad relay frame", zap.Error(err))
				continue
			}
			hub.Receive(ctx, f)
		}
	}
}

func encodeRelayFrame(f Frame) []byte {
	e := &jx.Encoder{}
	e.ObjStart()
	e.FieldStart("origin")
	e.Str(f.Origin)
	e.FieldStart("room")
	e.Str(f.Room)
	e.FieldStart("payload")
	e.Raw(f.Payload)
	e.ObjEnd()
	return e.Bytes()
}

func decodeRelayFrame(b []byte) (Frame, error) {
	var f Frame
	err := jx.DecodeBytes(b).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "origin":
			v, err := d.Str()
			f.Origin = v
			return err
		case "room":
			v, err := d.Str()
			f.Room = v
			return err
		case "payload":
			raw, err := d.Raw()
			f.Payload = raw
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Frame{}, errors.Wrap(err, "decode relay frame")
	}
	if f.Room == "" {
		return Frame{}, errors.New("relay frame has no room")
	}
	return f, nil
}
