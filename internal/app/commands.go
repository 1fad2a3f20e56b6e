package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"salahbot/internal/groups"
	"salahbot/internal/prayer"
	"salahbot/internal/schedule"
	"salahbot/internal/storage"
	"salahbot/internal/transport"
	"salahbot/pkg/logx"
)

// Commands routes incoming updates to handlers. Owner-only commands are
// gated on the configured user IDs and recorded in the audit log.
type Commands struct {
	app *App
	log logx.Logger

	mu     sync.RWMutex
	owners map[int64]struct{}
}

func NewCommands(app *App, ownerIDs []int64) *Commands {
	c := &Commands{
		app: app,
		log: app.log.With(logx.String("comp", "commands")),
	}
	c.SetOwners(ownerIDs)
	return c
}

func (c *Commands) SetOwners(ids []int64) {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	c.mu.Lock()
	c.owners = m
	c.mu.Unlock()
}

func (c *Commands) isOwner(userID int64) bool {
	c.mu.RLock()
	_, ok := c.owners[userID]
	c.mu.RUnlock()
	return ok
}

func (c *Commands) Menu() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "start", Description: "تفعيل البوت في المجموعة"},
		{Command: "times", Description: "مواقيت الصلاة اليوم"},
		{Command: "progress", Description: "موضع الورد الحالي"},
		{Command: "settings", Description: "إعدادات التنبيهات"},
		{Command: "help", Description: "قائمة الأوامر"},
	}
}

func (c *Commands) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			c.handle(ctx, up.Message)
		}
	}
}

func (c *Commands) handle(ctx context.Context, m *transport.Message) {
	cmd, args := splitCommand(m.Text)
	if cmd == "" {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("command panicked", logx.String("cmd", cmd), logx.Any("panic", r))
		}
	}()

	switch cmd {
	case "start":
		c.cmdStart(ctx, m)
	case "help":
		c.reply(ctx, m, c.helpText(m.FromID))
	case "times":
		c.cmdTimes(ctx, m)
	case "progress":
		c.cmdProgress(ctx, m)
	case "settings":
		c.cmdSettings(ctx, m, args)
	case "health":
		c.ownerOnly(ctx, m, "health", func() { c.cmdHealth(ctx, m) })
	case "resolve":
		c.ownerOnly(ctx, m, "resolve", func() { c.cmdResolve(ctx, m, args) })
	case "sendnow":
		c.ownerOnly(ctx, m, "sendnow "+strings.Join(args, " "), func() { c.cmdSendNow(ctx, m, args) })
	}
}

func (c *Commands) ownerOnly(ctx context.Context, m *transport.Message, action string, fn func()) {
	if !c.isOwner(m.FromID) {
		c.reply(ctx, m, "هذا الأمر متاح للمشرف فقط.")
		return
	}
	fn()
	if err := c.app.store.AppendAudit(ctx, storage.AuditEntry{
		At:      time.Now(),
		ActorID: m.FromID,
		ChatID:  m.ChatID,
		Action:  action,
		OK:      true,
	}); err != nil {
		c.log.Warn("audit append failed", logx.Err(err))
	}
}

func (c *Commands) cmdStart(ctx context.Context, m *transport.Message) {
	if !m.IsGroup {
		c.reply(ctx, m, "أهلاً بك! أضفني إلى مجموعة ثم أرسل /start هناك لتفعيل التنبيهات.")
		return
	}
	if _, err := c.app.registry.Register(ctx, m.ChatID, ""); err != nil {
		c.log.Error("register failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		c.reply(ctx, m, "تعذر التفعيل، حاول لاحقاً.")
		return
	}
	c.reply(ctx, m, "تم التفعيل ✅ ستصل تنبيهات الصلاة وورد القرآن والأذكار إلى هذه المجموعة.")
}

func (c *Commands) cmdTimes(ctx context.Context, m *transport.Message) {
	ts, err := c.app.resolver.ResolveToday(ctx, false)
	if err != nil {
		c.reply(ctx, m, "تعذر جلب مواقيت اليوم، حاول لاحقاً.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🕌 مواقيت الصلاة %s\n", ts.Date)
	if ts.Stale {
		b.WriteString("⚠️ مواقيت يوم سابق (تعذر التحديث)\n")
	}
	for _, p := range prayer.Canonical {
		if at, ok := ts.At(p); ok {
			fmt.Fprintf(&b, "%s: %s\n", prayerName(p), at.In(c.app.loc).Format("15:04"))
		}
	}
	c.reply(ctx, m, b.String())
}

func (c *Commands) cmdProgress(ctx context.Context, m *transport.Message) {
	rec := c.app.tracker.Position(m.ChatID)
	c.reply(ctx, m, fmt.Sprintf("📖 الصفحة القادمة: %d من %d\nعدد الختمات: %d",
		rec.CurrentPage, c.app.pages.Total(), rec.Completions))
}

func (c *Commands) cmdSettings(ctx context.Context, m *transport.Message, args []string) {
	if len(args) == 2 {
		f, okF := parseFeature(args[0])
		on, okV := parseOnOff(args[1])
		if okF && okV {
			if _, err := c.app.registry.SetFeature(ctx, m.ChatID, f, on); err != nil {
				c.reply(ctx, m, "تعذر حفظ الإعداد.")
				return
			}
		}
	}
	g := c.app.registry.Get(m.ChatID)
	c.reply(ctx, m, fmt.Sprintf(
		"⚙️ الإعدادات:\nquran: %s\nreminders: %s\ndhikr: %s\npost_dhikr: %s\n\nللتغيير: /settings <الاسم> on|off",
		onOff(g.Quran), onOff(g.Reminders), onOff(g.Dhikr), onOff(g.PostDhikr)))
}

func (c *Commands) cmdHealth(ctx context.Context, m *transport.Message) {
	snap := c.app.Health()
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		c.reply(ctx, m, "health: "+err.Error())
		return
	}
	c.reply(ctx, m, string(b))
}

func (c *Commands) cmdResolve(ctx context.Context, m *transport.Message, args []string) {
	force := len(args) > 0 && args[0] == "force"
	ts, err := c.app.resolver.ResolveToday(ctx, force)
	if err != nil {
		c.reply(ctx, m, "resolve failed: "+err.Error())
		return
	}
	c.reply(ctx, m, fmt.Sprintf("resolved %s from %s (stale=%v)", ts.Date, ts.Source, ts.Stale))
}

func (c *Commands) cmdSendNow(ctx context.Context, m *transport.Message, args []string) {
	if len(args) == 0 {
		c.reply(ctx, m, "usage: /sendnow quran [chat_id]|morning_dhikr|evening_dhikr")
		return
	}
	var err error
	switch args[0] {
	case "quran":
		// scoped to one chat: the invoking one, or an explicit id
		chatID := m.ChatID
		if len(args) > 1 {
			id, perr := strconv.ParseInt(args[1], 10, 64)
			if perr != nil {
				c.reply(ctx, m, "bad chat_id: "+args[1])
				return
			}
			chatID = id
		}
		err = c.app.notif.SendQuranTo(ctx, chatID)
	case "morning_dhikr":
		err = c.app.notif.RunTask(ctx, &schedule.Task{Kind: schedule.KindMorningDhikr})
	case "evening_dhikr":
		err = c.app.notif.RunTask(ctx, &schedule.Task{Kind: schedule.KindEveningDhikr})
	default:
		c.reply(ctx, m, "unknown kind: "+args[0])
		return
	}
	if err != nil {
		c.reply(ctx, m, "sendnow failed: "+err.Error())
		return
	}
	c.reply(ctx, m, "done ✅")
}

func (c *Commands) helpText(userID int64) string {
	var b strings.Builder
	b.WriteString("الأوامر:\n")
	b.WriteString("/start — تفعيل البوت في المجموعة\n")
	b.WriteString("/times — مواقيت الصلاة اليوم\n")
	b.WriteString("/progress — موضع الورد الحالي\n")
	b.WriteString("/settings — إعدادات التنبيهات\n")
	if c.isOwner(userID) {
		b.WriteString("\nأوامر المشرف:\n")
		b.WriteString("/health — حالة النظام\n")
		b.WriteString("/resolve [force] — تحديث المواقيت\n")
		b.WriteString("/sendnow <kind> — إرسال فوري\n")
	}
	return b.String()
}

func (c *Commands) reply(ctx context.Context, m *transport.Message, text string) {
	to := transport.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := c.app.adapter.SendText(ctx, to, text, nil); err != nil {
		c.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

// splitCommand parses "/cmd@bot arg1 arg2" into ("cmd", ["arg1","arg2"]).
func splitCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil
	}
	cmd := fields[0]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), fields[1:]
}

func parseFeature(s string) (groups.Feature, bool) {
	switch strings.ToLower(s) {
	case "quran":
		return groups.FeatureQuran, true
	case "reminders":
		return groups.FeatureReminders, true
	case "dhikr":
		return groups.FeatureDhikr, true
	case "post_dhikr", "postdhikr":
		return groups.FeaturePostDhikr, true
	default:
		return "", false
	}
}

func parseOnOff(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, true
	case "off", "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

func onOff(v bool) string {
	if v {
		return "on ✅"
	}
	return "off ❌"
}
