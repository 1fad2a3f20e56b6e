// Package delivery sends one payload to many chats, isolating per-chat
// failures so one dead group never blocks the rest.
package delivery

import (
	"context"

	"golang.org/x/time/rate"

	"salahbot/internal/transport"
	"salahbot/pkg/logx"
)

// Deactivator is notified when a chat is gone for good. Implemented by
// the group registry.
type Deactivator interface {
	Deactivate(ctx context.Context, chatID int64, reason string) error
}

// Failure is one chat that did not receive the payload.
type Failure struct {
	ChatID int64
	Kind   transport.SendErrorKind
	Err    error
}

// Result is the outcome of one fan-out pass.
type Result struct {
	Succeeded []int64
	Failed    []Failure
}

// Fanout delivers payloads sequentially under a shared rate limiter.
// The platform rate limit is global, so parallel sends would not finish
// any sooner.
type Fanout struct {
	adapter transport.Adapter
	limiter *rate.Limiter
	deact   Deactivator
	log     logx.Logger
}

func NewFanout(adapter transport.Adapter, ratePerSec float64, deact Deactivator, log logx.Logger) *Fanout {
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fanout{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		deact:   deact,
		log:     log,
	}
}

// Send delivers payload to every chat in chatIDs. A failed send is
// recorded and the pass continues; a permanently gone chat is also
// deactivated. Only context cancellation aborts the pass early.
func (f *Fanout) Send(ctx context.Context, chatIDs []int64, payload transport.Payload) Result {
	var res Result
	for _, id := range chatIDs {
		if err := f.limiter.Wait(ctx); err != nil {
			// context cancelled; remaining chats are neither
			// succeeded nor failed
			return res
		}
		if err := f.sendOne(ctx, id, payload); err != nil {
			kind, _ := transport.ClassifySend(err)
			res.Failed = append(res.Failed, Failure{ChatID: id, Kind: kind, Err: err})
			f.log.Warn("send failed",
				logx.Int64("chat_id", id),
				logx.String("kind", kind.String()),
				logx.Err(err))
			if transport.IsPermanent(err) && f.deact != nil {
				if derr := f.deact.Deactivate(ctx, id, "send: "+kind.String()); derr != nil {
					f.log.Error("deactivate failed", logx.Int64("chat_id", id), logx.Err(derr))
				}
			}
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}

func (f *Fanout) sendOne(ctx context.Context, chatID int64, p transport.Payload) error {
	to := transport.ChatTarget{ChatID: chatID}
	switch {
	case len(p.ImageRefs) == 1:
		_, err := f.adapter.SendPhoto(ctx, to, p.ImageRefs[0], p.Text, p.Options)
		return err
	case len(p.ImageRefs) > 1:
		_, err := f.adapter.SendAlbum(ctx, to, p.ImageRefs, p.Text, p.Options)
		return err
	default:
		_, err := f.adapter.SendText(ctx, to, p.Text, p.Options)
		return err
	}
}

// Replace deletes a previous message and sends its successor. The delete
// may fail (too old, already gone); that never blocks the new send.
func (f *Fanout) Replace(ctx context.Context, prev transport.MessageRef, payload transport.Payload) (transport.MessageRef, error) {
	if prev.MessageID != 0 {
		if err := f.adapter.DeleteMessage(ctx, prev); err != nil {
			f.log.Debug("delete before replace failed",
				logx.Int64("chat_id", prev.ChatID),
				logx.Int("message_id", prev.MessageID),
				logx.Err(err))
		}
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	return f.adapter.SendText(ctx, transport.ChatTarget{ChatID: prev.ChatID, ThreadID: prev.ThreadID}, payload.Text, payload.Options)
}
