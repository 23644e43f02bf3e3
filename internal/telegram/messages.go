package telegram

import (
	"fmt"
	"strings"

	"webook-bot/internal/ledger"
)

const (
	msgGreeting      = "مرحبًا! أرسل اسم الفعالية التي ترغب في حجز تذكرة لها من WeBook."
	msgSearching     = "جارٍ البحث عن: %s ..."
	msgNoResults     = "لم يتم العثور على نتائج."
	msgBookNow       = "احجز الآن"
	msgAskTickets    = "كم عدد التذاكر التي ترغب بحجزها؟"
	msgAskDate       = "ما هو تاريخ الحجز؟ (مثال: 2025-06-15)"
	msgCancelled     = "تم إلغاء الحجز."
	msgDenied        = "❌ لا تملك صلاحية الوصول."
	msgNoLedger      = "❌ لا يوجد ملف حجوزات."
	msgNoMatches     = "لا توجد حجوزات مطابقة."
	msgLedgerFailed  = "❌ تعذر قراءة ملف الحجوزات."
	msgMalformed     = "⚠️ تعذر قراءة %d من السجلات المخزنة."
	msgSaveFailed    = "❌ تعذر حفظ الحجز. أرسل التاريخ مرة أخرى أو استخدم /cancel للإلغاء."
	msgBadSelection  = "❌ انتهت صلاحية هذا الاختيار. أرسل اسم الفعالية للبحث من جديد."
	msgUnknownCmd    = "أمر غير معروف. استخدم /help لعرض الأوامر."
	msgReportFailed  = "❌ تعذر إنشاء التقرير."
	msgHelp          = "الأوامر:\n/start – البداية\n/cancel – إلغاء الحجز الجاري\n/help – عرض الأوامر\n\nأرسل اسم أي فعالية للبحث عنها."
	msgHelpAdmin     = "\n\nأوامر المشرف:\n/bookings [نص] – عرض الحجوزات مع تصفية اختيارية حسب اسم الفعالية\n/report – تقرير حجوزات اليوم"
	bookingsAliasCmd = "/الحجوزات"
)

// Telegram rejects messages over 4096 characters.
const maxMessageRunes = 4000

func formatResult(title, url string) string {
	return fmt.Sprintf("• %s\n%s", title, url)
}

func formatConfirmation(rec ledger.Record) string {
	return fmt.Sprintf("تم الحجز بنجاح لـ %s:\n\n%s\nعدد التذاكر: %s\nالتاريخ: %s\n%s",
		rec.UserName, rec.EventTitle, rec.Tickets, rec.Date, rec.EventURL)
}

func formatRecord(rec ledger.Record) string {
	return fmt.Sprintf("• %s\n%s\n%s\nعدد: %s | التاريخ: %s\n",
		rec.UserName, rec.EventTitle, rec.EventURL, rec.Tickets, rec.Date)
}

// chunkBlocks joins blocks into messages that stay under the Telegram
// limit. A single oversized block is split on rune boundaries.
func chunkBlocks(blocks []string, limit int) []string {
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, blk := range blocks {
		r := []rune(blk)
		if n+len(r) > limit {
			flush()
		}
		for len(r) > limit {
			out = append(out, string(r[:limit]))
			r = r[limit:]
		}
		cur.WriteString(string(r))
		n += len(r)
	}
	flush()
	return out
}
