package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/alertbridge/internal/config"
	"github.com/alanyoungcy/alertbridge/internal/crypto"
	"github.com/alanyoungcy/alertbridge/internal/terminal"
)

// newTerminal selects the trading terminal for the configured mode. Live
// mode talks to the bridge and needs credentials; paper mode fills orders
// in memory.
func newTerminal(cfg *config.Config, logger *slog.Logger) (terminal.Terminal, terminal.Credentials, error) {
	switch strings.ToLower(cfg.Mode) {
	case "paper":
		logger.Warn("paper mode: orders are simulated and never reach the terminal")
		return terminal.NewPaperTerminal(cfg.Terminal.Magic), terminal.Credentials{
			Login:  cfg.Terminal.Login,
			Server: cfg.Terminal.Server,
		}, nil

	case "live":
		password, err := crypto.LoadSecret(crypto.SecretSource{
			Plain:      cfg.Terminal.Password,
			File:       cfg.Terminal.PasswordFile,
			Passphrase: cfg.Terminal.PasswordPassphrase,
		})
		if err != nil {
			return nil, terminal.Credentials{}, fmt.Errorf("app: terminal password: %w", err)
		}
		bridge := terminal.NewBridgeClient(terminal.BridgeConfig{
			URL:              cfg.Terminal.URL,
			HandshakeTimeout: cfg.Terminal.ConnectTimeout.Duration,
			Magic:            cfg.Terminal.Magic,
			Deviation:        cfg.Terminal.Deviation,
			Comment:          cfg.Terminal.Comment,
			Filling:          strings.ToLower(cfg.Terminal.Filling),
		}, logger)
		return bridge, terminal.Credentials{
			Login:    cfg.Terminal.Login,
			Password: password,
			Server:   cfg.Terminal.Server,
		}, nil

	default:
		return nil, terminal.Credentials{}, fmt.Errorf("app: unsupported mode %q", cfg.Mode)
	}
}
