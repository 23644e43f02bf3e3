package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// dispatch hands u to the worker of its sender. Updates of one user are
// handled strictly in arrival order; different users run in parallel.
func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	id, ok := senderID(u)
	if !ok {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleUpdate(ctx, u)
		}()
		return
	}

	b.qmu.Lock()
	q, busy := b.queues[id]
	b.queues[id] = append(q, u)
	b.qmu.Unlock()
	if busy {
		return
	}
	b.wg.Add(1)
	go b.drain(ctx, id)
}

// drain handles the user's queue until it is empty. The queue entry stays
// in the map while an update is being handled so new arrivals join it.
func (b *Bot) drain(ctx context.Context, id int64) {
	defer b.wg.Done()
	for {
		b.qmu.Lock()
		q := b.queues[id]
		if len(q) == 0 {
			delete(b.queues, id)
			b.qmu.Unlock()
			return
		}
		u := q[0]
		b.queues[id] = q[1:]
		b.qmu.Unlock()

		b.handleUpdate(ctx, u)
	}
}

func senderID(u tgbotapi.Update) (int64, bool) {
	switch {
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID, true
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		return u.CallbackQuery.From.ID, true
	}
	return 0, false
}
