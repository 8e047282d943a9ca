package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/meko-christian/mailwatch/internal/watcher"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactively generate a config.yaml file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile := "config.yaml"

		if _, err := os.Stat(configFile); err == nil {
			fmt.Println("config.yaml already exists. Remove it first to run init again.")
			return nil
		}

		reader := bufio.NewReader(os.Stdin)

		fmt.Println("Let's set up your config.yaml!")

		fmt.Println("\n--- IMAP ---")
		imapServer := prompt(reader, "IMAP server (e.g. imap.example.org): ")
		imapPort := promptDefault(reader, "IMAP port", "993")
		imapUser := prompt(reader, "IMAP username: ")
		imapPass := prompt(reader, "IMAP password: ")
		mailbox := promptDefault(reader, "Mailbox to watch", "INBOX")

		fmt.Println("\n--- WATCH ---")
		refreshRate := promptDefault(reader, "Refresh rate in seconds", "10")
		expiration := promptDefault(reader, "Notification cut-off age in seconds", "180")
		targetFolder := promptDefault(reader, "Folder for matched mail", "Processed")

		fmt.Println("\n--- LISTS ---")
		sendersFile := promptDefault(reader, "Allowed senders file", "allowed_senders.json")
		subjectsFile := promptDefault(reader, "Trigger subjects file", "trigger_subjects.json")

		fmt.Println("\n--- NOTIFY ---")
		audioFile := prompt(reader, "Audio file to play on a match (empty for silent): ")
		player := promptDefault(reader, "Player command", "play")
		desktop := strings.HasPrefix(strings.ToLower(prompt(reader, "Desktop notifications? (y/N): ")), "y")
		forwards := promptMulti(reader, "Forward alerts to email(s) (comma-separated, empty to disable): ")

		var b strings.Builder
		fmt.Fprintf(&b, `imap:
  server: %s
  port: %s
  username: %s
  password: %s
  mailbox: %s

watch:
  refresh_rate: %s
  mail_expiration: %s
  target_folder: %s

lists:
  allowed_senders: %s
  trigger_subjects: %s

notify:
  audio_file: %s
  player: %s
  desktop: %t
`, imapServer, imapPort, imapUser, imapPass, mailbox,
			refreshRate, expiration, targetFolder,
			sendersFile, subjectsFile,
			audioFile, player, desktop)

		if len(forwards) > 0 {
			fmt.Fprintf(&b, "  forward_to:\n%s\n", yamlList("    - ", forwards))

			fmt.Println("\n--- SMTP (for forwarded alerts) ---")
			smtpServer := prompt(reader, "SMTP server (e.g. smtp.example.org): ")
			smtpPort := promptDefault(reader, "SMTP port", "465")
			smtpSecurity := promptDefault(reader, "SMTP security (ssl/starttls)", "ssl")
			smtpUser := prompt(reader, "SMTP username: ")
			smtpPass := prompt(reader, "SMTP password: ")

			fmt.Fprintf(&b, `
smtp:
  server: %s
  port: %s
  security: %s
  username: %s
  password: %s
`, smtpServer, smtpPort, smtpSecurity, smtpUser, smtpPass)
		}

		if err := os.WriteFile(configFile, []byte(b.String()), 0o600); err != nil {
			return fmt.Errorf("failed to write config.yaml: %w", err)
		}

		// Start the allow-lists off as empty files so the first run does not
		// warn about them.
		if err := watcher.EnsureListFiles(watcher.Config{
			AllowedSendersFile:  sendersFile,
			TriggerSubjectsFile: subjectsFile,
		}); err != nil {
			return err
		}

		fmt.Println("\n✅ config.yaml created successfully.")
		fmt.Printf("Add trusted sender names to %s and trigger phrases to %s.\n", sendersFile, subjectsFile)
		return nil
	},
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	text, _ := r.ReadString('\n')
	return strings.TrimSpace(text)
}

func promptDefault(r *bufio.Reader, label, fallback string) string {
	text := prompt(r, fmt.Sprintf("%s [%s]: ", label, fallback))
	if text == "" {
		return fallback
	}
	return text
}

func promptMulti(r *bufio.Reader, label string) []string {
	raw := prompt(r, label)
	parts := strings.Split(raw, ",")
	var cleaned []string
	for _, s := range parts {
		s = strings.TrimSpace(s)
		if s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

func yamlList(prefix string, values []string) string {
	var lines []string
	for _, v := range values {
		lines = append(lines, fmt.Sprintf("%s%s", prefix, v))
	}
	return strings.Join(lines, "\n")
}
