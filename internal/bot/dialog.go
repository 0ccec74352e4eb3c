package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"xabar/internal/storage"
	logx "xabar/pkg/logx"
)

type dialogStep int

const (
	stepNone dialogStep = iota
	stepJobText
	stepJobPhoto
	stepJobInterval
	stepDestination
	stepCredential
	stepSubscribeDays
	stepSubscribeReceipt
)

// dialog is the per-user multi-step input state. It lives in memory
// only; an abandoned dialog is simply overwritten by the next /start.
type dialog struct {
	step    dialogStep
	body    string
	photoID string
	days    int
}

func (s *Service) dialogFor(userID int64) *dialog {
	s.dlgMu.Lock()
	defer s.dlgMu.Unlock()
	d, ok := s.dialogs[userID]
	if !ok {
		d = &dialog{}
		s.dialogs[userID] = d
	}
	return d
}

func (s *Service) resetDialog(userID int64) {
	s.dlgMu.Lock()
	delete(s.dialogs, userID)
	s.dlgMu.Unlock()
}

func (s *Service) setStep(userID int64, step dialogStep) {
	s.dlgMu.Lock()
	d, ok := s.dialogs[userID]
	if !ok {
		d = &dialog{}
		s.dialogs[userID] = d
	}
	d.step = step
	s.dlgMu.Unlock()
}

// continueDialog feeds one text message into the user's dialog. It
// reports whether the message was consumed.
func (s *Service) continueDialog(ctx context.Context, c tele.Context, userID int64, text string) (bool, error) {
	d := s.dialogFor(userID)
	switch d.step {
	case stepJobText:
		d.body = text
		d.step = stepJobPhoto
		return true, c.Send("Got it. Now send a photo for the post, or /skip for text only.")

	case stepJobPhoto:
		if text == "/skip" {
			d.step = stepJobInterval
			return true, c.Send(fmt.Sprintf("Text only. How often should it repeat, in seconds? Minimum %d.",
				int(s.cfg.MinInterval.Seconds())))
		}
		return true, c.Send("Send a photo, or /skip for text only.")

	case stepJobInterval:
		return true, s.finishJobDialog(ctx, c, userID, d, text)

	case stepDestination:
		return true, s.finishDestinationDialog(ctx, c, userID, text)

	case stepCredential:
		return true, s.finishCredentialDialog(ctx, c, userID, text)

	case stepSubscribeDays:
		days, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil || days <= 0 {
			return true, c.Send("Send the number of days to subscribe for, e.g. 30.")
		}
		d.days = days
		d.step = stepSubscribeReceipt
		return true, c.Send(fmt.Sprintf(
			"%d day(s) costs %d.\nTransfer to card %s, then send a photo of the receipt, or /skip.",
			days, s.billing.Price(days), s.billing.Card()))

	case stepSubscribeReceipt:
		if text == "/skip" {
			return true, s.finishSubscribeDialog(ctx, c, userID, d.days, "")
		}
		return true, c.Send("Send the receipt as a photo, or /skip.")
	}
	return false, nil
}

func (s *Service) finishJobDialog(ctx context.Context, c tele.Context, userID int64, d *dialog, text string) error {
	sec, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || sec <= 0 {
		return c.Send("That is not a number of seconds. Try again.")
	}
	interval := time.Duration(sec) * time.Second
	if interval < s.cfg.MinInterval {
		interval = s.cfg.MinInterval
	}

	id, err := s.store.CreateJob(ctx, storage.Job{
		Owner:    userID,
		Body:     d.body,
		PhotoID:  d.photoID,
		Interval: interval,
		Active:   true,
	})
	if err != nil {
		s.log.Error("job create failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Could not save the job. Try again later.")
	}
	s.resetDialog(userID)
	s.log.Info("job created",
		logx.Int64("user", userID), logx.Int64("job", id), logx.Duration("interval", interval))
	return c.Send(fmt.Sprintf("Job #%d saved, repeating every %s. It starts on the next cycle.", id, interval))
}

func (s *Service) finishDestinationDialog(ctx context.Context, c tele.Context, userID int64, text string) error {
	ref := strings.TrimSpace(text)
	if ref == "" {
		return c.Send("Send the destination as @username or a numeric chat id.")
	}

	// Resolve once, at registration. The scheduler later uses the stored
	// handle as-is.
	chat, err := s.resolveChat(ref)
	if err != nil {
		s.log.Debug("destination resolve failed", logx.String("ref", ref), logx.Err(err))
		return c.Send("Could not find that chat. Check the handle and make sure your bot was added to it.")
	}

	title := chat.Title
	if title == "" {
		title = ref
	}
	id, err := s.store.CreateDestination(ctx, storage.Destination{
		Owner:   userID,
		ChatRef: ref,
		Title:   title,
	})
	if err != nil {
		s.log.Error("destination create failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Could not save the destination. Try again later.")
	}
	s.resetDialog(userID)
	return c.Send(fmt.Sprintf("Destination #%d registered: %s", id, title))
}

func (s *Service) resolveChat(ref string) (*tele.Chat, error) {
	if strings.HasPrefix(ref, "@") {
		return s.bot.ChatByUsername(ref)
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bot: bad chat reference %q", ref)
	}
	return s.bot.ChatByID(id)
}

func (s *Service) finishCredentialDialog(ctx context.Context, c tele.Context, userID int64, text string) error {
	token := strings.TrimSpace(text)
	if token == "" {
		return c.Send("Send the bot token you got from @BotFather.")
	}

	label, err := verifyToken(token)
	if err != nil {
		s.log.Debug("credential verify failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("That token did not work. Double-check it and send again, or /cancel.")
	}

	id, err := s.store.CreateCredential(ctx, storage.Credential{
		Owner: userID,
		Label: label,
		Token: token,
	})
	if err != nil {
		s.log.Error("credential create failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Could not save the account. Try again later.")
	}
	s.resetDialog(userID)
	s.log.Info("credential linked", logx.Int64("user", userID), logx.Int64("credential", id))
	return c.Send(fmt.Sprintf("Linked @%s. Your broadcasts will be sent from it.", label))
}

// verifyToken checks the token against the provider and returns the
// account's username.
func verifyToken(token string) (string, error) {
	b, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return "", err
	}
	return b.Me.Username, nil
}

func (s *Service) finishSubscribeDialog(ctx context.Context, c tele.Context, userID int64, days int, receipt string) error {
	p, err := s.billing.RequestSubscription(ctx, userID, days, receipt)
	if err != nil {
		s.log.Error("subscription request failed", logx.Int64("user", userID), logx.Err(err))
		return c.Send("Could not create the payment request. Try again later.")
	}
	s.resetDialog(userID)
	return c.Send(fmt.Sprintf(
		"Payment request for %d day(s), %d, sent. An admin will confirm it shortly.",
		days, p.Amount))
}
