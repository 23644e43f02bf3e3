package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webook-bot/internal/analytics"
	"webook-bot/internal/auth"
	"webook-bot/internal/conversation"
	"webook-bot/internal/ledger"
	"webook-bot/internal/search"
)

const adminID = int64(1144370824)

type sentMessage struct {
	chatID int64
	text   string
	data   []string
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sentMessage
	answered []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := c.(tgbotapi.MessageConfig)
	sm := sentMessage{chatID: m.ChatID, text: m.Text}
	if kb, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				sm.data = append(sm.data, *btn.CallbackData)
			}
		}
	}
	f.sent = append(f.sent, sm)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answered = append(f.answered, cb.CallbackQueryID)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.text)
	}
	return out
}

func (f *fakeSender) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeSearcher struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type memLedger struct {
	mu        sync.Mutex
	records   []ledger.Record
	appendErr error
	scan      *ledger.ScanResult
}

func (m *memLedger) Append(ctx context.Context, rec ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memLedger) Scan(ctx context.Context, filter string) (ledger.ScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scan != nil {
		return *m.scan, nil
	}
	var res ledger.ScanResult
	for _, r := range m.records {
		if filter == "" || strings.Contains(strings.ToLower(r.EventTitle), strings.ToLower(filter)) {
			res.Records = append(res.Records, r)
		}
	}
	return res, nil
}

type harness struct {
	bot    *Bot
	sender *fakeSender
	search *fakeSearcher
	ledger *memLedger
}

func newHarness(results ...search.Result) *harness {
	h := &harness{
		sender: &fakeSender{},
		search: &fakeSearcher{results: results},
		ledger: &memLedger{},
	}
	h.bot = newBot(h.sender, Deps{
		Auth:          auth.New(adminID),
		Searcher:      h.search,
		Ledger:        h.ledger,
		Conversations: conversation.NewManager(h.ledger, time.Hour),
		Selections:    conversation.NewSelections(time.Hour),
	})
	return h
}

func textMsg(userID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID, FirstName: "Ali", LastName: "Hassan"},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}
}

func cmdMsg(userID int64, text string) *tgbotapi.Message {
	m := textMsg(userID, text)
	cmd := text
	if i := strings.IndexByte(text, ' '); i > 0 {
		cmd = text[:i]
	}
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return m
}

func (h *harness) say(msg *tgbotapi.Message) {
	h.bot.handleIncomingMessage(context.Background(), msg)
}

func (h *harness) click(userID int64, data string) {
	h.bot.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: userID, FirstName: "Ali", LastName: "Hassan"},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: userID}},
		Data:    data,
	})
}

var concert = search.Result{Title: "Summer Concert", URL: "https://webook.com/ar/events/summer-concert"}

func TestStart_SendsGreeting(t *testing.T) {
	h := newHarness()
	h.say(cmdMsg(1, "/start"))
	if got := h.sender.texts(); len(got) != 1 || got[0] != msgGreeting {
		t.Fatalf("unexpected: %+v", got)
	}
}

func TestSearch_RendersResultsWithButtons(t *testing.T) {
	long := search.Result{Title: strings.Repeat("Very long event title ", 4), URL: "https://webook.com/ar/events/a-very-long-slug-for-this-event"}
	h := newHarness(concert, long)

	h.say(textMsg(1, "concert"))

	if len(h.search.queries) != 1 || h.search.queries[0] != "concert" {
		t.Fatalf("search not called: %+v", h.search.queries)
	}
	sent := h.sender.sent
	if len(sent) != 3 {
		t.Fatalf("want searching + 2 results, got %d", len(sent))
	}
	if !strings.Contains(sent[0].text, "concert") {
		t.Fatalf("searching message missing query: %q", sent[0].text)
	}
	if sent[1].text != "• Summer Concert\nhttps://webook.com/ar/events/summer-concert" {
		t.Fatalf("unexpected result text: %q", sent[1].text)
	}
	for _, m := range sent[1:] {
		if len(m.data) != 1 || len(m.data[0]) > maxCallbackData {
			t.Fatalf("bad button data: %+v", m.data)
		}
	}
	if !strings.HasPrefix(sent[1].data[0], "book|") {
		t.Fatalf("short selection should carry the token: %q", sent[1].data[0])
	}
	if !strings.HasPrefix(sent[2].data[0], conversation.KeyPrefix) {
		t.Fatalf("long selection should use a key: %q", sent[2].data[0])
	}
}

func TestSearch_NoResultsAndFailures(t *testing.T) {
	h := newHarness()
	h.say(textMsg(1, "nothing"))
	if got := h.sender.last().text; got != msgNoResults {
		t.Fatalf("want no results, got %q", got)
	}

	h.search.err = &search.Error{Kind: search.KindNetwork, Err: errors.New("dial tcp: refused")}
	h.say(textMsg(1, "anything"))
	if got := h.sender.last().text; got != msgNoResults {
		t.Fatalf("failure should read as no results, got %q", got)
	}
}

func TestBookingFlow_StoresAndConfirms(t *testing.T) {
	h := newHarness(concert)
	h.say(textMsg(1, "concert"))
	data := h.sender.last().data[0]

	h.click(1, data)
	if len(h.sender.answered) != 1 {
		t.Fatalf("callback not answered")
	}
	if got := h.sender.last().text; got != msgAskTickets {
		t.Fatalf("want ticket prompt, got %q", got)
	}

	h.say(textMsg(1, "2"))
	if got := h.sender.last().text; got != msgAskDate {
		t.Fatalf("want date prompt, got %q", got)
	}
	if len(h.search.queries) != 1 {
		t.Fatalf("answer must not trigger a search")
	}

	h.say(textMsg(1, "2025-06-15"))
	if len(h.ledger.records) != 1 {
		t.Fatalf("want 1 record, got %d", len(h.ledger.records))
	}
	rec := h.ledger.records[0]
	if rec.UserName != "Ali Hassan" || rec.EventTitle != concert.Title || rec.EventURL != concert.URL ||
		rec.Tickets != "2" || rec.Date != "2025-06-15" || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record: %+v", rec)
	}
	confirm := h.sender.last().text
	if !strings.Contains(confirm, "تم الحجز بنجاح") || !strings.Contains(confirm, "2025-06-15") {
		t.Fatalf("unexpected confirmation: %q", confirm)
	}

	// Conversation is over: next text is a search again.
	h.say(textMsg(1, "football"))
	if len(h.search.queries) != 2 {
		t.Fatalf("expected a new search after completion")
	}
}

func TestBookingFlow_LongSelectionKey(t *testing.T) {
	long := search.Result{Title: strings.Repeat("Opera ", 12), URL: "https://webook.com/ar/events/opera-night-special-edition"}
	h := newHarness(long)
	h.say(textMsg(1, "opera"))

	h.click(1, h.sender.last().data[0])
	h.say(textMsg(1, "3"))
	h.say(textMsg(1, "tomorrow"))

	if len(h.ledger.records) != 1 || h.ledger.records[0].EventTitle != long.Title {
		t.Fatalf("unexpected records: %+v", h.ledger.records)
	}
}

func TestBookingFlow_AppendFailureNoConfirmation(t *testing.T) {
	h := newHarness(concert)
	h.ledger.appendErr = errors.New("disk full")
	h.click(1, conversation.EncodeSelection(conversation.Selection{Title: concert.Title, URL: concert.URL}))
	h.say(textMsg(1, "2"))
	h.say(textMsg(1, "2025-06-15"))

	for _, txt := range h.sender.texts() {
		if strings.Contains(txt, "تم الحجز بنجاح") {
			t.Fatalf("confirmation sent despite failed append")
		}
	}
	if got := h.sender.last().text; got != msgSaveFailed {
		t.Fatalf("want save failure message, got %q", got)
	}
}

func TestConsume_KeepsEachUserInOrder(t *testing.T) {
	sel := conversation.EncodeSelection(conversation.Selection{Title: concert.Title, URL: concert.URL})
	for run := 0; run < 200; run++ {
		h := newHarness(concert)
		h.click(1, sel)
		h.click(2, sel)

		updates := make(chan tgbotapi.Update, 4)
		updates <- tgbotapi.Update{UpdateID: 1, Message: textMsg(1, "2")}
		updates <- tgbotapi.Update{UpdateID: 2, Message: textMsg(2, "5")}
		updates <- tgbotapi.Update{UpdateID: 3, Message: textMsg(1, "2025-06-15")}
		updates <- tgbotapi.Update{UpdateID: 4, Message: textMsg(2, "2025-07-01")}
		close(updates)

		if err := h.bot.consume(context.Background(), updates, nil); err != nil {
			t.Fatalf("consume: %v", err)
		}
		h.bot.wg.Wait()

		if len(h.ledger.records) != 2 {
			t.Fatalf("run %d: want 2 records, got %+v", run, h.ledger.records)
		}
		for _, rec := range h.ledger.records {
			ok := (rec.Tickets == "2" && rec.Date == "2025-06-15") || (rec.Tickets == "5" && rec.Date == "2025-07-01")
			if !ok {
				t.Fatalf("run %d: answers applied out of order: %+v", run, rec)
			}
		}
		if len(h.bot.queues) != 0 {
			t.Fatalf("run %d: queues not drained: %d", run, len(h.bot.queues))
		}
	}
}

func TestCancel_StoresNothing(t *testing.T) {
	h := newHarness(concert)
	h.click(1, conversation.EncodeSelection(conversation.Selection{Title: concert.Title, URL: concert.URL}))
	h.say(textMsg(1, "2"))
	h.say(cmdMsg(1, "/cancel"))

	if got := h.sender.last().text; got != msgCancelled {
		t.Fatalf("want cancel ack, got %q", got)
	}
	if len(h.ledger.records) != 0 {
		t.Fatalf("cancel stored a booking")
	}
	h.say(textMsg(1, "2025-06-15"))
	if len(h.search.queries) != 1 || len(h.ledger.records) != 0 {
		t.Fatalf("text after cancel should be a search")
	}
}

func TestCallback_MalformedToken(t *testing.T) {
	h := newHarness()
	for _, data := range []string{"book|only-title", "s:deadbeef", "garbage"} {
		h.click(1, data)
		if got := h.sender.last().text; got != msgBadSelection {
			t.Fatalf("%q: want rejection, got %q", data, got)
		}
	}
	if st := h.bot.conv.State(1); st != conversation.StateIdle {
		t.Fatalf("malformed token opened a booking: %s", st)
	}
}

func TestBookings_NonAdminDenied(t *testing.T) {
	h := newHarness()
	h.ledger.records = []ledger.Record{{UserName: "secret", EventTitle: "Concert"}}

	for _, text := range []string{"/bookings", "/bookings concert"} {
		h.say(cmdMsg(42, text))
	}
	h.say(textMsg(42, "/الحجوزات concert"))

	for _, txt := range h.sender.texts() {
		if txt != msgDenied {
			t.Fatalf("non-admin received %q", txt)
		}
	}
	if len(h.sender.texts()) != 3 {
		t.Fatalf("want 3 denials, got %d", len(h.sender.texts()))
	}
}

func TestBookings_AdminFilter(t *testing.T) {
	h := newHarness()
	h.ledger.records = []ledger.Record{
		{UserName: "a", EventTitle: "Summer Concert", EventURL: "u1", Tickets: "2", Date: "d1"},
		{UserName: "b", EventTitle: "Football", EventURL: "u2", Tickets: "1", Date: "d2"},
		{UserName: "c", EventTitle: "CONCERT Night", EventURL: "u3", Tickets: "5", Date: "d3"},
	}

	h.say(cmdMsg(adminID, "/bookings concert"))
	out := h.sender.last().text
	if !strings.Contains(out, "Summer Concert") || !strings.Contains(out, "CONCERT Night") || strings.Contains(out, "Football") {
		t.Fatalf("unexpected listing: %q", out)
	}
	if strings.Index(out, "Summer Concert") > strings.Index(out, "CONCERT Night") {
		t.Fatalf("listing out of order: %q", out)
	}

	h.say(textMsg(adminID, "/الحجوزات football"))
	if out := h.sender.last().text; !strings.Contains(out, "Football") || strings.Contains(out, "Concert") {
		t.Fatalf("alias filter failed: %q", out)
	}

	h.say(cmdMsg(adminID, "/bookings opera"))
	if got := h.sender.last().text; got != msgNoMatches {
		t.Fatalf("want no matches, got %q", got)
	}
}

func TestBookings_MissingAndMalformed(t *testing.T) {
	h := newHarness()
	h.ledger.scan = &ledger.ScanResult{Missing: true}
	h.say(cmdMsg(adminID, "/bookings"))
	if got := h.sender.last().text; got != msgNoLedger {
		t.Fatalf("want missing message, got %q", got)
	}

	h.ledger.scan = &ledger.ScanResult{
		Records:   []ledger.Record{{UserName: "a", EventTitle: "E"}},
		Malformed: []*ledger.DecodeError{{Line: 3, Err: ledger.ErrFieldCount}},
	}
	h.say(cmdMsg(adminID, "/bookings"))
	if got := h.sender.last().text; !strings.Contains(got, "• a") || !strings.Contains(got, "1") {
		t.Fatalf("unexpected listing: %q", got)
	}
}

func TestReport_AdminOnly(t *testing.T) {
	h := newHarness()
	h.bot.now = func() time.Time { return time.Date(2025, 6, 15, 20, 0, 0, 0, time.UTC) }
	h.ledger.records = []ledger.Record{
		{UserName: "a", EventTitle: "Concert", Tickets: "2", CreatedAt: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)},
	}

	h.say(cmdMsg(42, "/report"))
	if got := h.sender.last().text; got != msgDenied {
		t.Fatalf("non-admin got report: %q", got)
	}

	if err := h.bot.SendDailyReport(context.Background()); err != nil {
		t.Fatalf("report: %v", err)
	}
	last := h.sender.last()
	if last.chatID != adminID || !strings.Contains(last.text, "2025-06-15") || !strings.Contains(last.text, "Concert: 1") {
		t.Fatalf("unexpected report: %+v", last)
	}
}

func TestReport_LogsStats(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	h := newHarness()
	h.bot.now = func() time.Time { return time.Date(2025, 6, 15, 20, 0, 0, 0, time.UTC) }
	h.ledger.records = []ledger.Record{
		{UserName: "a", EventTitle: "Concert", Tickets: "2", CreatedAt: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)},
		{UserName: "b", EventTitle: "Concert", Tickets: "3", CreatedAt: time.Date(2025, 6, 15, 11, 0, 0, 0, time.UTC)},
	}
	if err := h.bot.SendDailyReport(context.Background()); err != nil {
		t.Fatalf("report: %v", err)
	}

	type logEntry struct {
		Message string               `json:"message"`
		Stats   analytics.DailyStats `json:"stats"`
	}
	var entry logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil && e.Message == "daily report" {
			entry = e
			break
		}
	}
	if entry.Message != "daily report" {
		t.Fatalf("report not logged: %s", buf.String())
	}
	if entry.Stats.Date != "2025-06-15" || entry.Stats.TotalBookings != 2 || entry.Stats.TotalTickets != 5 {
		t.Fatalf("unexpected logged stats: %+v", entry.Stats)
	}
}

func TestChunkBlocks(t *testing.T) {
	blocks := []string{strings.Repeat("a", 6), strings.Repeat("b", 6), strings.Repeat("c", 25)}
	chunks := chunkBlocks(blocks, 10)
	for _, c := range chunks {
		if len([]rune(c)) > 10 {
			t.Fatalf("chunk too long: %q", c)
		}
	}
	if strings.Join(chunks, "") != strings.Join(blocks, "") {
		t.Fatalf("content lost: %+v", chunks)
	}
}
