// Package telegram implements the outbound transport on top of the
// Telegram Bot API via telebot.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "xabar/internal/transport"
	logx "xabar/pkg/logx"
)

// Sender sends broadcast content through per-credential telebot clients.
// Clients are built lazily and cached by token; they carry no poller,
// sending is the only thing they do.
type Sender struct {
	log  logx.Logger
	http *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func NewSender(log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		log:  log,
		http: &http.Client{Timeout: 30 * time.Second},
		bots: make(map[string]*tele.Bot),
	}
}

// chatRef passes the stored chat handle to telebot verbatim, so both
// "@username" and numeric id forms work.
type chatRef string

func (r chatRef) Recipient() string { return string(r) }

func (s *Sender) bot(token string) (*tele.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Client:  s.http,
		Offline: true, // no getMe; tokens are verified at link time
	})
	if err != nil {
		return nil, err
	}
	s.bots[token] = b
	return b, nil
}

// Forget drops the cached client for a token. Called when a credential
// is unlinked.
func (s *Sender) Forget(token string) {
	s.mu.Lock()
	delete(s.bots, token)
	s.mu.Unlock()
}

func (s *Sender) Send(ctx context.Context, cred kit.Credential, to kit.ChatRef, msg kit.Content) error {
	if strings.TrimSpace(cred.Token) == "" {
		return errors.New("telegram: empty credential token")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := s.bot(cred.Token)
	if err != nil {
		return err
	}

	var what any = msg.Body
	if msg.PhotoID != "" {
		what = &tele.Photo{
			File:    tele.File{FileID: msg.PhotoID},
			Caption: msg.Body,
		}
	}

	if _, err := b.Send(chatRef(to), what); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError rewraps telebot's flood error so callers can read the wait
// without importing telebot.
func mapError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return kit.Throttle(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	return err
}
