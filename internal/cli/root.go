// Package cli реализует pairctl: подключение к сессии из терминала,
// снимок состояния и проверку здоровья сервера.
package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "PAIRCTL"

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "pairctl",
		Short:         "Pairline CLI: join collaboration sessions from the terminal",
		Long:          "pairctl connects to a Pairline server, streams session events, fetches live snapshots and probes server health. Every flag can also be set as PAIRCTL_<FLAG>.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8080", "collaboration server base URL")
	flags.String("grpc", "localhost:9090", "gRPC health endpoint")
	flags.String("session", "", "session id")
	flags.String("user", "", "user id")
	flags.String("token", "", "auth token")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newJoinCmd(v),
		newSnapshotCmd(v),
		newHealthCmd(v),
	)

	return rootCmd
}

// identity - обязательные параметры для обращения к сессии
type identity struct {
	server    string
	sessionID string
	userID    string
	token     string
}

func loadIdentity(v *viper.Viper) (identity, error) {
	id := identity{
		server:    strings.TrimRight(v.GetString("server"), "/"),
		sessionID: v.GetString("session"),
		userID:    v.GetString("user"),
		token:     v.GetString("token"),
	}
	if id.server == "" {
		return identity{}, errors.New("--server is required")
	}
	if id.sessionID == "" {
		return identity{}, errors.New("--session is required")
	}
	if id.userID == "" {
		return identity{}, errors.New("--user is required")
	}
	return id, nil
}

// websocketURL превращает http(s) адрес сервера в адрес /ws
func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
