// Package boot loads the environment the process cannot run without.
// Missing store or email credentials stop startup with a diagnostic
// naming the variable; tunables live in the settings file instead
// (internal/config) and may change at runtime.
package boot

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Env struct {
	StoreURL     string `env:"STORE_URL,required"`
	StoreAPIKey  string `env:"STORE_API_KEY,required"`
	ResendAPIKey string `env:"RESEND_API_KEY,required"`
	MailFrom     string `env:"MAIL_FROM,default=PastTime <onboarding@resend.dev>"`
	Port         string `env:"PORT,default=3001"`
	ConfigPath   string `env:"CONFIG_PATH"`
}

func Load(ctx context.Context) (*Env, error) {
	env := &Env{}
	if err := envconfig.Process(ctx, env); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	return env, nil
}
