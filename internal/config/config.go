// Package config holds the runtime-tunable settings file and its hot
// reload machinery. Credentials are not here; see internal/boot.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	yaml "go.yaml.in/yaml/v3"

	"github.com/Jedidiah5/past-time/internal/alert"
	"github.com/Jedidiah5/past-time/internal/journal"
	"github.com/Jedidiah5/past-time/pkg/logx"
)

type Settings struct {
	// TickSpec is a cron expression for the delivery tick.
	// The reference cadence is once per minute.
	TickSpec string `yaml:"tick_spec"`

	Logging logx.Config    `yaml:"logging"`
	Mailer  MailerSettings `yaml:"mailer"`
	Journal journal.Config `yaml:"journal"`
	Alert   alert.Config   `yaml:"alert"`
}

type MailerSettings struct {
	RatePerSec int `yaml:"rate_per_sec"`
}

func Default() Settings {
	return Settings{
		TickSpec: "* * * * *",
		Logging: logx.Config{
			Level:   "info",
			Console: true,
		},
		Mailer:  MailerSettings{RatePerSec: 2},
		Journal: journal.Config{Enabled: true, Path: "data/journal.db"},
	}
}

// Load reads a settings file over the defaults. Unknown keys are
// rejected so a typo fails loudly instead of silently using a default.
func Load(path string) (Settings, error) {
	s := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := unmarshalStrict(b, &s); err != nil {
		return Default(), fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid %s: %w", path, err)
	}
	return s, nil
}

func unmarshalStrict(b []byte, out *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func (s Settings) Validate() error {
	if s.TickSpec != "" {
		if _, err := cron.ParseStandard(s.TickSpec); err != nil {
			return fmt.Errorf("tick_spec: %w", err)
		}
	}
	if s.Journal.Enabled && s.Journal.Path == "" {
		return errors.New("journal.path is required when journal.enabled")
	}
	if s.Alert.Enabled && (s.Alert.Token == "" || s.Alert.ChatID == 0) {
		return errors.New("alert.token and alert.chat_id are required when alert.enabled")
	}
	return nil
}
