package app

import (
	"context"
	"fmt"
	"time"

	"salahbot/internal/delivery"
	"salahbot/internal/dhikr"
	"salahbot/internal/groups"
	"salahbot/internal/prayer"
	"salahbot/internal/quran"
	"salahbot/internal/schedule"
	"salahbot/internal/transport"
	"salahbot/pkg/logx"
)

// arabicNames are the display names used in outgoing messages.
var arabicNames = map[prayer.Prayer]string{
	prayer.Fajr:    "الفجر",
	prayer.Dhuhr:   "الظهر",
	prayer.Asr:     "العصر",
	prayer.Maghrib: "المغرب",
	prayer.Isha:    "العشاء",
}

func prayerName(p prayer.Prayer) string {
	if n, ok := arabicNames[p]; ok {
		return n
	}
	return string(p)
}

type NotifierDeps struct {
	Registry     *groups.Registry
	Tracker      *quran.Tracker
	Pages        *quran.Pages
	Rotation     *dhikr.Rotation
	Fanout       *delivery.Fanout
	PagesPerSend int
	AlertBefore  time.Duration
	Loc          *time.Location
	Log          logx.Logger
}

// Notifier turns fired schedule tasks into outgoing messages. It is the
// scheduler's Runner.
type Notifier struct {
	d NotifierDeps
}

func NewNotifier(d NotifierDeps) *Notifier {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.PagesPerSend <= 0 {
		d.PagesPerSend = 3
	}
	return &Notifier{d: d}
}

func (n *Notifier) RunTask(ctx context.Context, t *schedule.Task) error {
	switch t.Kind {
	case schedule.KindAlert:
		at := t.At.Add(n.d.AlertBefore).In(n.d.Loc)
		text := fmt.Sprintf("🕌 اقترب موعد صلاة %s\n🕐 الأذان الساعة %s",
			prayerName(t.Prayer), at.Format("15:04"))
		return n.broadcast(ctx, groups.FeatureReminders, transport.Payload{Text: text}, string(t.Kind))

	case schedule.KindReminder:
		text := fmt.Sprintf("🕌 حان الآن موعد صلاة %s\n«إِنَّ الصَّلَاةَ كَانَتْ عَلَى الْمُؤْمِنِينَ كِتَابًا مَوْقُوتًا»",
			prayerName(t.Prayer))
		return n.broadcast(ctx, groups.FeatureReminders, transport.Payload{Text: text}, string(t.Kind))

	case schedule.KindPostDhikr:
		text := "📿 أذكار ما بعد الصلاة\n\n" + n.d.Rotation.Next(dhikr.PostPrayer)
		return n.broadcast(ctx, groups.FeaturePostDhikr, transport.Payload{Text: text}, string(t.Kind))

	case schedule.KindMorningDhikr:
		text := "🌅 أذكار الصباح\n\n" + n.d.Rotation.Next(dhikr.Morning)
		return n.broadcast(ctx, groups.FeatureDhikr, transport.Payload{Text: text}, string(t.Kind))

	case schedule.KindEveningDhikr:
		text := "🌇 أذكار المساء\n\n" + n.d.Rotation.Next(dhikr.Evening)
		return n.broadcast(ctx, groups.FeatureDhikr, transport.Payload{Text: text}, string(t.Kind))

	case schedule.KindQuran:
		return n.SendQuranPages(ctx)

	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

func (n *Notifier) broadcast(ctx context.Context, f groups.Feature, payload transport.Payload, kind string) error {
	targets := n.d.Registry.ListActive(f)
	if len(targets) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(targets))
	for _, g := range targets {
		ids = append(ids, g.ChatID)
	}
	res := n.d.Fanout.Send(ctx, ids, payload)
	n.d.Log.Info("broadcast done",
		logx.String("kind", kind),
		logx.Int("ok", len(res.Succeeded)),
		logx.Int("failed", len(res.Failed)))
	return nil
}

// SendQuranPages advances each subscribed group and sends its next run
// of pages. Groups advance independently, so one group's failure never
// moves or blocks another's cursor.
func (n *Notifier) SendQuranPages(ctx context.Context) error {
	targets := n.d.Registry.ListActive(groups.FeatureQuran)
	for _, g := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.SendQuranTo(ctx, g.ChatID); err != nil {
			n.d.Log.Warn("quran send failed", logx.Int64("chat_id", g.ChatID), logx.Err(err))
		}
	}
	return nil
}

// SendQuranTo advances one group's cursor and sends its next run of
// pages. Also the manual /sendnow path, which targets a single chat.
func (n *Notifier) SendQuranTo(ctx context.Context, chatID int64) error {
	adv, err := n.d.Tracker.AdvanceBy(ctx, chatID, n.d.PagesPerSend)
	if err != nil {
		return err
	}
	refs, err := n.d.Pages.URLs(adv.Pages)
	if err != nil {
		return err
	}

	caption := fmt.Sprintf("📖 ورد اليوم: الصفحات %d-%d",
		adv.Pages[0], adv.Pages[len(adv.Pages)-1])
	res := n.d.Fanout.Send(ctx, []int64{chatID}, transport.Payload{Text: caption, ImageRefs: refs})
	if len(res.Failed) > 0 {
		return res.Failed[0].Err
	}

	if adv.Wrapped {
		congrats := fmt.Sprintf("🎉 تقبل الله، ختمتم المصحف!\nعدد الختمات: %d", adv.Completed)
		n.d.Fanout.Send(ctx, []int64{chatID}, transport.Payload{Text: congrats})
	}
	return nil
}
