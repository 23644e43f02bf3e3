package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webook-bot/internal/analytics"
	"webook-bot/internal/auth"
	"webook-bot/internal/conversation"
	"webook-bot/internal/search"
)

// Telegram caps callback data at 64 bytes.
const maxCallbackData = 64

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	logger := log.With().Int64("user_id", msg.From.ID).Int64("chat_id", msg.Chat.ID).Logger()

	// Telegram does not tag non-Latin commands, so the alias is matched on text.
	if text == bookingsAliasCmd || strings.HasPrefix(text, bookingsAliasCmd+" ") {
		b.handleBookings(ctx, logger, msg.From.ID, msg.Chat.ID, strings.TrimSpace(strings.TrimPrefix(text, bookingsAliasCmd)))
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, logger, msg)
		return
	}

	out, err := b.conv.Answer(ctx, msg.From.ID, displayName(msg.From), text)
	switch {
	case errors.Is(err, conversation.ErrNoConversation):
		b.handleSearch(ctx, logger, msg.Chat.ID, text)
	case err != nil:
		logger.Error().Err(err).Msg("failed to store booking")
		b.sendMessage(msg.Chat.ID, msgSaveFailed)
	case out.State == conversation.StateAwaitingDate:
		b.sendMessage(msg.Chat.ID, msgAskDate)
	case out.State == conversation.StateComplete:
		logger.Info().Str("event", out.Record.EventTitle).Str("tickets", out.Record.Tickets).Str("date", out.Record.Date).Msg("booking stored")
		b.sendMessage(msg.Chat.ID, formatConfirmation(out.Record))
	default:
		logger.Warn().Stringer("state", out.State).Msg("unexpected conversation state")
	}
}

func (b *Bot) handleCommand(ctx context.Context, logger zerolog.Logger, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, msgGreeting)
	case "help":
		text := msgHelp
		if b.authSvc.IsAdmin(msg.From.ID) {
			text += msgHelpAdmin
		}
		b.sendMessage(msg.Chat.ID, text)
	case "cancel":
		if b.conv.Cancel(msg.From.ID) {
			logger.Info().Msg("booking cancelled")
		}
		b.sendMessage(msg.Chat.ID, msgCancelled)
	case "bookings":
		b.handleBookings(ctx, logger, msg.From.ID, msg.Chat.ID, strings.TrimSpace(msg.CommandArguments()))
	case "report":
		if !b.authSvc.IsAdmin(msg.From.ID) {
			logger.Warn().Msg("unauthorized report request")
			b.sendMessage(msg.Chat.ID, msgDenied)
			return
		}
		if err := b.sendDailyReport(ctx, msg.Chat.ID); err != nil {
			logger.Error().Err(err).Msg("failed to build report")
			b.sendMessage(msg.Chat.ID, msgReportFailed)
		}
	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCmd)
	}
}

func (b *Bot) handleSearch(ctx context.Context, logger zerolog.Logger, chatID int64, query string) {
	b.sendMessage(chatID, fmt.Sprintf(msgSearching, query))

	results, err := b.searcher.Search(ctx, query)
	if err != nil {
		ev := logger.Warn().Err(err).Str("query", query)
		var se *search.Error
		if errors.As(err, &se) {
			ev = ev.Str("kind", string(se.Kind))
		}
		ev.Msg("search failed")
		b.sendMessage(chatID, msgNoResults)
		return
	}
	if len(results) == 0 {
		logger.Info().Str("query", query).Msg("search returned no results")
		b.sendMessage(chatID, msgNoResults)
		return
	}

	for _, r := range results {
		out := tgbotapi.NewMessage(chatID, formatResult(r.Title, r.URL))
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(msgBookNow, b.callbackData(r)),
			),
		)
		b.send(out)
	}
}

// callbackData returns the selection token itself when it fits into a
// button, otherwise a short key into the selection store.
func (b *Bot) callbackData(r search.Result) string {
	token := conversation.EncodeSelection(conversation.Selection{Title: r.Title, URL: r.URL})
	if len(token) <= maxCallbackData {
		return token
	}
	return b.selections.Put(token)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	if _, err := b.s.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Warn().Err(err).Msg("failed to answer callback")
	}

	chatID := cb.From.ID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}
	logger := log.With().Int64("user_id", cb.From.ID).Int64("chat_id", chatID).Logger()

	sel, err := b.resolveSelection(cb.Data)
	if err != nil {
		logger.Warn().Err(err).Msg("rejected selection")
		b.sendMessage(chatID, msgBadSelection)
		return
	}

	b.conv.Begin(cb.From.ID, sel)
	logger.Info().Str("event", sel.Title).Msg("booking started")
	b.sendMessage(chatID, msgAskTickets)
}

func (b *Bot) resolveSelection(data string) (conversation.Selection, error) {
	token := data
	if strings.HasPrefix(data, conversation.KeyPrefix) {
		t, err := b.selections.Resolve(data)
		if err != nil {
			return conversation.Selection{}, err
		}
		token = t
	}
	return conversation.DecodeSelection(token)
}

func (b *Bot) handleBookings(ctx context.Context, logger zerolog.Logger, userID, chatID int64, filter string) {
	if !b.authSvc.IsAdmin(userID) {
		logger.Warn().Msg("unauthorized bookings request")
		b.sendMessage(chatID, msgDenied)
		return
	}

	res, err := b.ledger.Scan(ctx, filter)
	if err != nil {
		logger.Error().Err(err).Msg("failed to scan ledger")
		b.sendMessage(chatID, msgLedgerFailed)
		return
	}
	if res.Missing {
		b.sendMessage(chatID, msgNoLedger)
		return
	}
	for _, de := range res.Malformed {
		logger.Warn().Err(de).Int("line", de.Line).Msg("malformed ledger record")
	}

	blocks := make([]string, 0, len(res.Records)+1)
	for _, rec := range res.Records {
		blocks = append(blocks, formatRecord(rec))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, msgNoMatches)
	}
	if n := len(res.Malformed); n > 0 {
		blocks = append(blocks, "\n"+fmt.Sprintf(msgMalformed, n))
	}
	for _, chunk := range chunkBlocks(blocks, maxMessageRunes) {
		b.sendMessage(chatID, chunk)
	}
}

// SendDailyReport sends today's booking summary to the admin.
func (b *Bot) SendDailyReport(ctx context.Context) error {
	adminID := b.authSvc.AdminID()
	if adminID == 0 {
		return errors.New("no admin configured")
	}
	return b.sendDailyReport(ctx, adminID)
}

func (b *Bot) sendDailyReport(ctx context.Context, chatID int64) error {
	res, err := b.ledger.Scan(ctx, "")
	if err != nil {
		return fmt.Errorf("scan ledger: %w", err)
	}
	stats := analytics.AnalyzeDailyBookings(res.Records, b.now().UTC())
	ev := log.Info().Int64("chat_id", chatID).Int("malformed", len(res.Malformed))
	if data, err := stats.ToJSON(); err == nil {
		ev = ev.RawJSON("stats", data)
	} else {
		log.Warn().Err(err).Msg("encode report stats")
	}
	ev.Msg("daily report")
	b.sendMessage(chatID, stats.GenerateReportSummary())
	return nil
}

// SweepExpired releases abandoned bookings and stale selections.
func (b *Bot) SweepExpired(context.Context) error {
	sessions := b.conv.Sweep()
	selections := b.selections.Sweep()
	if sessions > 0 || selections > 0 {
		log.Debug().Int("sessions", sessions).Int("selections", selections).Msg("swept expired state")
	}
	return nil
}

func displayName(u *tgbotapi.User) string {
	name := auth.User{ID: u.ID, Username: u.UserName, FirstName: u.FirstName, LastName: u.LastName}.DisplayName()
	if name == "" {
		return strconv.FormatInt(u.ID, 10)
	}
	return name
}
