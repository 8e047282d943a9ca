package watcher

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything one watcher run needs. It is assembled once per
// command invocation and treated as immutable afterwards; nothing below the
// command layer reads viper again.
type Config struct {
	// IMAP account
	Server   string
	Port     int
	Username string
	Password string
	Mailbox  string

	// Watch behaviour
	RefreshRate    time.Duration
	MailExpiration time.Duration
	TargetFolder   string

	// Allow-list files (JSON arrays of strings)
	AllowedSendersFile  string
	TriggerSubjectsFile string

	// Notification channels
	AudioFile string
	Player    string
	Desktop   bool
	ForwardTo []string

	// SMTP settings for the forward channel
	SMTPServer   string
	SMTPPort     int
	SMTPSecurity string
	SMTPUsername string
	SMTPPassword string
}

// LoadConfig builds the runtime configuration from viper. Durations are
// configured in seconds, matching the flat style of the config file.
func LoadConfig() Config {
	viper.SetDefault("imap.port", 993)
	viper.SetDefault("imap.mailbox", "INBOX")
	viper.SetDefault("watch.refresh_rate", 10)
	viper.SetDefault("watch.mail_expiration", 180)
	viper.SetDefault("watch.target_folder", "Processed")
	viper.SetDefault("lists.allowed_senders", "allowed_senders.json")
	viper.SetDefault("lists.trigger_subjects", "trigger_subjects.json")
	viper.SetDefault("notify.player", "play")
	viper.SetDefault("smtp.port", 465)

	return Config{
		Server:   viper.GetString("imap.server"),
		Port:     viper.GetInt("imap.port"),
		Username: viper.GetString("imap.username"),
		Password: viper.GetString("imap.password"),
		Mailbox:  viper.GetString("imap.mailbox"),

		RefreshRate:    time.Duration(viper.GetInt("watch.refresh_rate")) * time.Second,
		MailExpiration: time.Duration(viper.GetInt("watch.mail_expiration")) * time.Second,
		TargetFolder:   viper.GetString("watch.target_folder"),

		AllowedSendersFile:  viper.GetString("lists.allowed_senders"),
		TriggerSubjectsFile: viper.GetString("lists.trigger_subjects"),

		AudioFile: viper.GetString("notify.audio_file"),
		Player:    viper.GetString("notify.player"),
		Desktop:   viper.GetBool("notify.desktop"),
		ForwardTo: viper.GetStringSlice("notify.forward_to"),

		SMTPServer:   viper.GetString("smtp.server"),
		SMTPPort:     viper.GetInt("smtp.port"),
		SMTPSecurity: viper.GetString("smtp.security"),
		SMTPUsername: viper.GetString("smtp.username"),
		SMTPPassword: viper.GetString("smtp.password"),
	}
}

// Validate reports the first setting the watcher cannot run with. Advisory
// findings (empty lists, missing audio file) are logged separately at
// startup and do not fail validation.
func (c Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("imap.server is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("imap.port %d is out of range", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("imap.password is required")
	}
	if c.Mailbox == "" {
		return fmt.Errorf("imap.mailbox is required")
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("watch.refresh_rate must be positive")
	}
	if c.MailExpiration < 0 {
		return fmt.Errorf("watch.mail_expiration must not be negative")
	}
	if c.TargetFolder == "" {
		return fmt.Errorf("watch.target_folder is required")
	}
	if c.AllowedSendersFile == "" {
		return fmt.Errorf("lists.allowed_senders is required")
	}
	if c.TriggerSubjectsFile == "" {
		return fmt.Errorf("lists.trigger_subjects is required")
	}
	if len(c.ForwardTo) > 0 && c.SMTPServer == "" {
		return fmt.Errorf("notify.forward_to is set but smtp.server is missing")
	}
	return nil
}
