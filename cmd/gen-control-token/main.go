package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/api"
	"github.com/AnatoliyZakhryapin/DeviceService/pkg/config"
)

// gen-control-token выпускает bearer-токен для /start, /stop, /restart из настроек jwt конфигурации.
func main() {
	var (
		cfgPath string
		subject string
		ttl     time.Duration
	)
	pflag.StringVarP(&cfgPath, "config", "c", "appsettings.json", "path to configuration file")
	pflag.StringVar(&subject, "subject", "operator", "token subject")
	pflag.DurationVar(&ttl, "ttl", 0, "token lifetime (default: jwt.token_expiry_minutes)")
	pflag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if ttl <= 0 {
		ttl = cfg.TokenTTL()
	}
	token, err := api.IssueToken(cfg.JWT, subject, ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
