package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"webook-bot/internal/auth"
	"webook-bot/internal/conversation"
	"webook-bot/internal/ledger"
	"webook-bot/internal/search"
)

const (
	pollTimeout       = 60
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Searcher finds events matching free text.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

type Bot struct {
	api        *tgbotapi.BotAPI
	s          sender
	authSvc    *auth.Service
	searcher   Searcher
	ledger     ledger.Ledger
	conv       *conversation.Manager
	selections *conversation.Selections
	now        func() time.Time

	qmu    sync.Mutex
	queues map[int64][]tgbotapi.Update
	wg     sync.WaitGroup
}

type Deps struct {
	Auth          *auth.Service
	Searcher      Searcher
	Ledger        ledger.Ledger
	Conversations *conversation.Manager
	Selections    *conversation.Selections
}

// Webhook describes inbound delivery. An empty URL selects long polling.
type Webhook struct {
	URL        string
	ListenAddr string
	Path       string
}

func New(botToken string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	log.Info().Str("username", api.Self.UserName).Msg("authorized on telegram")
	b := newBot(botAPISender{api: api}, deps)
	b.api = api
	return b, nil
}

func newBot(s sender, deps Deps) *Bot {
	return &Bot{
		s:          s,
		authSvc:    deps.Auth,
		searcher:   deps.Searcher,
		ledger:     deps.Ledger,
		conv:       deps.Conversations,
		selections: deps.Selections,
		now:        time.Now,
		queues:     make(map[int64][]tgbotapi.Update),
	}
}

// Start consumes updates until ctx is cancelled, then waits for in-flight
// handlers to finish.
func (b *Bot) Start(ctx context.Context, wh Webhook) error {
	var (
		updates tgbotapi.UpdatesChannel
		stop    func()
		errc    = make(chan error, 1)
	)
	if wh.URL != "" {
		ch, srv, err := b.listenWebhook(wh)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("webhook server: %w", err)
			}
		}()
		updates = ch
		stop = func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("webhook server shutdown")
			}
		}
		log.Info().Str("addr", wh.ListenAddr).Str("path", wh.Path).Msg("listening for webhook updates")
	} else {
		if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			return fmt.Errorf("delete webhook: %w", err)
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = pollTimeout
		updates = b.api.GetUpdatesChan(u)
		stop = b.api.StopReceivingUpdates
		log.Info().Msg("polling for updates")
	}

	err := b.consume(ctx, updates, errc)
	stop()
	b.wg.Wait()
	return err
}

func (b *Bot) consume(ctx context.Context, updates tgbotapi.UpdatesChannel, errc <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) listenWebhook(wh Webhook) (tgbotapi.UpdatesChannel, *http.Server, error) {
	cfg, err := tgbotapi.NewWebhook(wh.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("webhook config: %w", err)
	}
	if _, err := b.api.Request(cfg); err != nil {
		return nil, nil, fmt.Errorf("set webhook: %w", err)
	}

	ch := make(chan tgbotapi.Update, b.api.Buffer)
	mux := http.NewServeMux()
	mux.HandleFunc(wh.Path, func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			log.Warn().Err(err).Msg("bad webhook request")
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		select {
		case ch <- *update:
		case <-r.Context().Done():
		}
	})
	srv := &http.Server{
		Addr:              wh.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return ch, srv, nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("update handler panicked")
		}
	}()

	if update.Message != nil {
		b.handleIncomingMessage(ctx, update.Message)
		return
	}
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.s.Send(c); err != nil {
		log.Error().Err(err).Msg("failed to send message")
	}
}
