package watcher

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/TheCreeper/go-notify"
	gomail "gopkg.in/gomail.v2"
)

// Notifier fires the attention-grabbing side effects for a fresh match. At
// most one notification runs at a time; requests arriving while one is in
// flight are dropped, so a burst of matches cannot stack players on top of
// each other.
type Notifier struct {
	cfg     Config
	inUse   chan struct{}
	deliver func(sender, subject string)
}

func NewNotifier(cfg Config) *Notifier {
	n := &Notifier{
		cfg:   cfg,
		inUse: make(chan struct{}, 1),
	}
	n.deliver = n.send
	return n
}

// Notify launches the notification channels in the background and returns
// immediately. Outcomes surface only in logs; the mailbox cycle never waits
// for, or fails because of, a notification.
func (n *Notifier) Notify(sender, subject string) {
	select {
	case n.inUse <- struct{}{}:
	default:
		slog.Debug("Notification already in progress, dropping", "sender", sender, "subject", subject)
		return
	}

	go func() {
		defer func() { <-n.inUse }()
		n.deliver(sender, subject)
	}()
}

// Wait blocks until any in-flight notification has finished. Used by
// one-shot commands so the process does not exit mid-playback.
func (n *Notifier) Wait() {
	n.inUse <- struct{}{}
	<-n.inUse
}

func (n *Notifier) send(sender, subject string) {
	if n.cfg.AudioFile != "" {
		if err := playAudio(n.cfg.Player, n.cfg.AudioFile); err != nil {
			slog.Warn("Failed to play notification sound",
				"player", n.cfg.Player, "file", n.cfg.AudioFile, "error", err)
		}
	}

	if n.cfg.Desktop {
		if err := n.showDesktop(sender, subject); err != nil {
			slog.Warn("Failed to show desktop notification", "error", err)
		}
	}

	if len(n.cfg.ForwardTo) > 0 {
		if err := n.forwardAlert(sender, subject); err != nil {
			slog.Warn("Failed to forward alert mail", "recipients", n.cfg.ForwardTo, "error", err)
		}
	}
}

// playAudio blocks until the player exits, so the in-flight token covers the
// audible part of the notification.
func playAudio(player, file string) error {
	cmd := exec.Command(player, file)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to run %s: %w", player, err)
	}
	return nil
}

// showDesktop raises a notification through the session's notification
// daemon. The sound file rides along as a hint for daemons that render
// notification sounds themselves.
func (n *Notifier) showDesktop(sender, subject string) error {
	ntf := notify.NewNotification("Mail from "+sender, subject)
	ntf.AppName = "mailwatch"
	ntf.AppIcon = "mail-unread"
	ntf.Timeout = notify.ExpiresDefault
	if n.cfg.AudioFile != "" {
		ntf.Hints = make(map[string]interface{})
		ntf.Hints[notify.HintSoundFile] = n.cfg.AudioFile
	}

	if _, err := ntf.Show(); err != nil {
		return fmt.Errorf("failed to show notification: %w", err)
	}
	return nil
}

// forwardAlert mails a short alert about the match to the configured
// recipients, reusing the account's SMTP settings.
func (n *Notifier) forwardAlert(sender, subject string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", n.cfg.SMTPUsername)
	msg.SetHeader("To", n.cfg.ForwardTo...)
	msg.SetHeader("Subject", "[mailwatch] "+subject)
	msg.SetBody("text/plain", fmt.Sprintf("Matched mail from %s: %s\n", sender, subject))

	dialer := gomail.NewDialer(n.cfg.SMTPServer, n.cfg.SMTPPort, n.cfg.SMTPUsername, n.cfg.SMTPPassword)

	if n.cfg.SMTPSecurity == "ssl" {
		dialer.SSL = true
	} else {
		// STARTTLS fallback, without certificate verification.
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}

	slog.Info("Forwarded alert mail", "subject", subject, "recipients", n.cfg.ForwardTo)
	return nil
}
