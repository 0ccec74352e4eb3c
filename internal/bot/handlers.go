package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"xabar/internal/storage"
	logx "xabar/pkg/logx"
)

const (
	btnNewJob       = "➕ New job"
	btnMyJobs       = "📋 My jobs"
	btnDestinations = "📡 Destinations"
	btnLinkAccount  = "🔑 Link account"
	btnSubscribe    = "💳 Subscribe"
	btnStatus       = "ℹ️ Status"
)

// opCtx bounds a single handler's store and network work.
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func (s *Service) menu() *tele.ReplyMarkup {
	m := &tele.ReplyMarkup{ResizeKeyboard: true}
	m.Reply(
		m.Row(m.Text(btnNewJob), m.Text(btnMyJobs)),
		m.Row(m.Text(btnDestinations), m.Text(btnLinkAccount)),
		m.Row(m.Text(btnSubscribe), m.Text(btnStatus)),
	)
	return m
}

func (s *Service) registerHandlers() {
	s.bot.Handle("/start", s.handleStart)
	s.bot.Handle("/cancel", s.handleCancel)
	s.bot.Handle("/skip", s.handleText) // /skip is only meaningful inside a dialog
	s.bot.Handle("/stats", s.handleStats)
	s.bot.Handle(tele.OnText, s.handleText)
	s.bot.Handle(tele.OnPhoto, s.handlePhoto)
}

func (s *Service) handleStart(c tele.Context) error {
	ctx, cancel := opCtx()
	defer cancel()

	userID := c.Sender().ID
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		s.log.Error("user ensure failed", logx.Int64("user", userID), logx.Err(err))
	}
	s.resetDialog(userID)
	return c.Send("Welcome. Set up a destination, link a sender account, and create a recurring post.", s.menu())
}

func (s *Service) handleCancel(c tele.Context) error {
	s.resetDialog(c.Sender().ID)
	return c.Send("Cancelled.", s.menu())
}

func (s *Service) handleText(c tele.Context) error {
	ctx, cancel := opCtx()
	defer cancel()

	userID := c.Sender().ID
	text := strings.TrimSpace(c.Text())

	// Admin decisions carry their arguments in the command itself, the
	// way the payment request message spells them.
	if s.isAdmin(userID) {
		if handled, err := s.handleAdminCommand(ctx, c, text); handled {
			return err
		}
	}
	if handled, err := s.handleJobCommand(ctx, c, userID, text); handled {
		return err
	}

	switch text {
	case btnNewJob:
		s.resetDialog(userID)
		s.setStep(userID, stepJobText)
		return c.Send("Send the post text.")
	case btnMyJobs:
		return s.sendJobList(ctx, c, userID)
	case btnDestinations:
		return s.handleDestinations(ctx, c, userID)
	case btnLinkAccount:
		s.resetDialog(userID)
		s.setStep(userID, stepCredential)
		return c.Send("Send the bot token of the account that will do the posting (from @BotFather).")
	case btnSubscribe:
		s.resetDialog(userID)
		s.setStep(userID, stepSubscribeDays)
		return c.Send(fmt.Sprintf("Daily price is %d. How many days?", s.billing.Price(1)))
	case btnStatus:
		return s.sendStatus(ctx, c, userID)
	}

	if handled, err := s.continueDialog(ctx, c, userID, text); handled {
		return err
	}
	return c.Send("Use the menu below.", s.menu())
}

func (s *Service) handlePhoto(c tele.Context) error {
	userID := c.Sender().ID
	d := s.dialogFor(userID)
	photo := c.Message().Photo

	switch d.step {
	case stepJobPhoto:
		if photo == nil {
			return c.Send("Could not read that photo. Send it again or /skip.")
		}
		d.photoID = photo.FileID
		if caption := strings.TrimSpace(c.Message().Caption); caption != "" && d.body == "" {
			d.body = caption
		}
		d.step = stepJobInterval
		return c.Send(fmt.Sprintf("Photo attached. How often should it repeat, in seconds? Minimum %d.",
			int(s.cfg.MinInterval.Seconds())))

	case stepSubscribeReceipt:
		if photo == nil {
			return c.Send("Could not read that photo. Send it again or /skip.")
		}
		ctx, cancel := opCtx()
		defer cancel()
		return s.finishSubscribeDialog(ctx, c, userID, d.days, photo.FileID)
	}
	return c.Send("Use the menu below.", s.menu())
}

// parseApprove extracts user id and days from /approve_<uid>_<days>.
func parseApprove(text string) (uid int64, days int, ok bool) {
	rest, found := strings.CutPrefix(text, "/approve_")
	if !found {
		return 0, 0, false
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 2 {
		return 0, 0, false
	}
	uid, err1 := strconv.ParseInt(parts[0], 10, 64)
	days, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || uid <= 0 || days <= 0 {
		return 0, 0, false
	}
	return uid, days, true
}

// parseBalance extracts user id and amount from /balance_<uid>_<amount>.
// The amount may be negative to deduct.
func parseBalance(text string) (uid int64, amount int64, ok bool) {
	rest, found := strings.CutPrefix(text, "/balance_")
	if !found {
		return 0, 0, false
	}
	idStr, amountStr, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	uid, err1 := strconv.ParseInt(idStr, 10, 64)
	amount, err2 := strconv.ParseInt(amountStr, 10, 64)
	if err1 != nil || err2 != nil || uid <= 0 || amount == 0 {
		return 0, 0, false
	}
	return uid, amount, true
}

// parseReject extracts the user id from /reject_<uid>.
func parseReject(text string) (uid int64, ok bool) {
	rest, found := strings.CutPrefix(text, "/reject_")
	if !found {
		return 0, false
	}
	uid, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || uid <= 0 {
		return 0, false
	}
	return uid, true
}

// handleAdminCommand handles /approve_<uid>_<days>, /reject_<uid>, and
// /balance_<uid>_<amount>.
func (s *Service) handleAdminCommand(ctx context.Context, c tele.Context, text string) (bool, error) {
	switch {
	case strings.HasPrefix(text, "/approve_"):
		uid, days, ok := parseApprove(text)
		if !ok {
			return true, c.Send("Format: /approve_<user>_<days>")
		}
		until, err := s.billing.Approve(ctx, uid, days)
		if err != nil {
			return true, c.Send(fmt.Sprintf("Approve failed: %v", err))
		}
		return true, c.Send(fmt.Sprintf("Approved. User %d is subscribed until %s.", uid, until.Format("2006-01-02 15:04")))

	case strings.HasPrefix(text, "/reject_"):
		uid, ok := parseReject(text)
		if !ok {
			return true, c.Send("Format: /reject_<user>")
		}
		if err := s.billing.Reject(ctx, uid); err != nil {
			return true, c.Send(fmt.Sprintf("Reject failed: %v", err))
		}
		return true, c.Send(fmt.Sprintf("Rejected pending payment(s) of user %d.", uid))

	case strings.HasPrefix(text, "/balance_"):
		uid, amount, ok := parseBalance(text)
		if !ok {
			return true, c.Send("Format: /balance_<user>_<amount>")
		}
		if err := s.billing.Credit(ctx, uid, amount); err != nil {
			return true, c.Send(fmt.Sprintf("Balance update failed: %v", err))
		}
		return true, c.Send(fmt.Sprintf("Balance of user %d adjusted by %d.", uid, amount))
	}
	return false, nil
}

// handleJobCommand parses the per-job toggles shown in the job list:
// /job_on_<id>, /job_off_<id>, /job_del_<id>, and /dest_del_<id>.
func (s *Service) handleJobCommand(ctx context.Context, c tele.Context, userID int64, text string) (bool, error) {
	toggle := func(prefix string, active bool) (bool, error) {
		id, err := strconv.ParseInt(strings.TrimPrefix(text, prefix), 10, 64)
		if err != nil {
			return true, c.Send("Unknown job.")
		}
		if err := s.store.SetJobActive(ctx, userID, id, active); err != nil {
			return true, c.Send("Unknown job.")
		}
		state := "paused"
		if active {
			state = "resumed"
		}
		return true, c.Send(fmt.Sprintf("Job #%d %s.", id, state))
	}

	switch {
	case strings.HasPrefix(text, "/job_on_"):
		return toggle("/job_on_", true)
	case strings.HasPrefix(text, "/job_off_"):
		return toggle("/job_off_", false)
	case strings.HasPrefix(text, "/job_del_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(text, "/job_del_"), 10, 64)
		if err != nil {
			return true, c.Send("Unknown job.")
		}
		if err := s.store.DeleteJob(ctx, userID, id); err != nil {
			return true, c.Send("Unknown job.")
		}
		return true, c.Send(fmt.Sprintf("Job #%d deleted.", id))
	case strings.HasPrefix(text, "/dest_del_"):
		id, err := strconv.ParseInt(strings.TrimPrefix(text, "/dest_del_"), 10, 64)
		if err != nil {
			return true, c.Send("Unknown destination.")
		}
		if err := s.store.DeactivateDestination(ctx, userID, id); err != nil {
			return true, c.Send("Unknown destination.")
		}
		return true, c.Send(fmt.Sprintf("Destination #%d removed.", id))
	}
	return false, nil
}

func (s *Service) sendJobList(ctx context.Context, c tele.Context, userID int64) error {
	jobs, err := s.store.Jobs(ctx, userID)
	if err != nil {
		s.log.Error("job list failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Could not load your jobs.")
	}
	if len(jobs) == 0 {
		return c.Send("No jobs yet. Create one with \"" + btnNewJob + "\".")
	}

	var b strings.Builder
	b.WriteString("Your jobs:\n")
	for _, j := range jobs {
		state := "▶"
		action := fmt.Sprintf("/job_off_%d", j.ID)
		if !j.Active {
			state = "⏸"
			action = fmt.Sprintf("/job_on_%d", j.ID)
		}
		fmt.Fprintf(&b, "\n%s #%d every %s, sent %d time(s)\n%s  /job_del_%d\n%s\n",
			state, j.ID, j.Interval, j.SentCount, action, j.ID, preview(j.Body))
	}
	return c.Send(b.String())
}

func (s *Service) handleDestinations(ctx context.Context, c tele.Context, userID int64) error {
	dests, err := s.store.ActiveDestinations(ctx, userID)
	if err != nil {
		s.log.Error("destination list failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Could not load your destinations.")
	}

	s.resetDialog(userID)
	s.setStep(userID, stepDestination)
	if len(dests) == 0 {
		return c.Send("No destinations yet. Send a chat as @username or a numeric id to register it.")
	}
	var b strings.Builder
	b.WriteString("Your destinations:\n")
	for _, d := range dests {
		fmt.Fprintf(&b, "\n#%d %s (%s)  /dest_del_%d\n", d.ID, d.Title, d.ChatRef, d.ID)
	}
	b.WriteString("\nSend another @username or chat id to add one.")
	return c.Send(b.String())
}

func (s *Service) sendStatus(ctx context.Context, c tele.Context, userID int64) error {
	sub, err := s.store.Subscription(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Error("subscription read failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Could not load your status.")
	}

	var b strings.Builder
	now := time.Now()
	if sub.Active(now) {
		fmt.Fprintf(&b, "Subscription active until %s.\n", sub.PaidUntil.Format("2006-01-02 15:04"))
	} else {
		b.WriteString("No active subscription. Your jobs will not run until you subscribe.\n")
	}

	if u, err := s.store.User(ctx, userID); err == nil {
		fmt.Fprintf(&b, "Balance: %d\n", u.Balance)
	}

	creds, err := s.store.Credentials(ctx, userID)
	if err == nil {
		active := 0
		for _, cr := range creds {
			if cr.Active {
				active++
			}
		}
		fmt.Fprintf(&b, "Linked accounts: %d\n", active)
	}
	dests, err := s.store.ActiveDestinations(ctx, userID)
	if err == nil {
		fmt.Fprintf(&b, "Destinations: %d\n", len(dests))
	}
	return c.Send(b.String())
}

func (s *Service) handleStats(c tele.Context) error {
	if !s.isAdmin(c.Sender().ID) {
		return c.Send("Use the menu below.", s.menu())
	}
	ctx, cancel := opCtx()
	defer cancel()

	st, err := s.billing.Stats(ctx)
	if err != nil {
		return c.Send(fmt.Sprintf("Stats failed: %v", err))
	}
	return c.Send(fmt.Sprintf(
		"Users: %d\nActive subscriptions: %d\nActive jobs: %d\nPasses delivered: %d\nPending payments: %d",
		st.Users, st.ActiveSubs, st.ActiveJobs, st.TotalSent, st.PendingPayments))
}

func preview(body string) string {
	body = strings.ReplaceAll(body, "\n", " ")
	r := []rune(body)
	if len(r) > 60 {
		return string(r[:60]) + "…"
	}
	return body
}
