package watcher

import (
	"fmt"
	"time"
)

// CheckOnce connects, classifies every unseen message once, acts on matches,
// and reports what it did. It is the one-shot variant of Run for interactive
// use and cron jobs.
func CheckOnce(cfg Config) error {
	fmt.Println("Connecting to IMAP...")

	sess, err := dialSession(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	notifier := NewNotifier(cfg)
	moved := 0

	// Each action invalidates the running batch, so keep scanning until a
	// pass completes without acting.
	for {
		acted, err := scanOnce(sess, cfg, notifier, time.Now())
		if err != nil {
			return err
		}
		if !acted {
			break
		}
		moved++
	}

	if moved == 0 {
		fmt.Println("No matching mails found.")
	} else {
		fmt.Printf("Moved %d matching mail(s) to %s.\n", moved, cfg.TargetFolder)
	}

	// Let an in-flight notification finish before the process exits.
	notifier.Wait()

	return nil
}
