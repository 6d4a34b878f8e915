package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"Pairline/internal/client"
	"Pairline/internal/collab"
	"Pairline/internal/dispatcher"
	"Pairline/internal/models"
)

func newJoinCmd(v *viper.Viper) *cobra.Command {
	var name, role string

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session and stream its events as JSON lines",
		Long: `Join a session and stream inbound events to stdout, one JSON object per line.
Lines read from stdin are sent as chat messages. Commands:
  /voice /video /screen   toggle voice, video or screen sharing
  /cursor LINE COLUMN     move the cursor
  /status                 print connection status and participants
  /quit                   leave the session`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := loadIdentity(v)
			if err != nil {
				return err
			}
			parsedRole, err := models.ParseRole(role)
			if err != nil {
				return err
			}
			endpoint, err := websocketURL(id.server)
			if err != nil {
				return err
			}

			sess, err := collab.New(client.Config{
				URL:       endpoint,
				SessionID: id.sessionID,
				UserID:    id.userID,
				Profile:   models.PresenceData{Name: name, Role: parsedRole},
				Tokens:    client.StaticToken(id.token),
				Logger:    slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn})),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := &lineWriter{w: cmd.OutOrStdout()}
			sess.Client().On(dispatcher.All, func(ev models.CollaborationEvent) {
				out.writeJSON(ev)
			})

			if err := sess.Start(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "connect failed, retrying: %v\n", err)
			}
			defer sess.Close()

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					quit, err := runCommand(sess, out, line)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
					}
					if quit {
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "participant role (host, mentor, participant, observer)")
	return cmd
}

// sessionActions - то, что join делает с сессией
type sessionActions interface {
	SendChatMessage(message string) error
	SendCursorMove(line, column int, file string) error
	ToggleVoice() (bool, error)
	ToggleVideo() (bool, error)
	ToggleScreenShare() (bool, error)
	View() collab.View
}

// runCommand выполняет одну строку ввода. quit == true означает выход
func runCommand(sess sessionActions, out *lineWriter, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, sess.SendChatMessage(line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true, nil
	case "/voice":
		enabled, err := sess.ToggleVoice()
		out.printf("voice %s\n", onOff(enabled))
		return false, err
	case "/video":
		enabled, err := sess.ToggleVideo()
		out.printf("video %s\n", onOff(enabled))
		return false, err
	case "/screen":
		enabled, err := sess.ToggleScreenShare()
		out.printf("screen sharing %s\n", onOff(enabled))
		return false, err
	case "/cursor":
		if len(fields) != 3 {
			return false, errors.New("usage: /cursor LINE COLUMN")
		}
		lineNo, err := strconv.Atoi(fields[1])
		if err != nil || lineNo < 0 {
			return false, fmt.Errorf("invalid line %q", fields[1])
		}
		col, err := strconv.Atoi(fields[2])
		if err != nil || col < 0 {
			return false, fmt.Errorf("invalid column %q", fields[2])
		}
		return false, sess.SendCursorMove(lineNo, col, "")
	case "/status":
		view := sess.View()
		out.printf("status: %s, version %d, participants: %d\n", view.ConnectionStatus, view.Version, len(view.Participants))
		for _, p := range view.Participants {
			out.printf("  %s (%s) %s\n", p.Name, p.ID, p.Role)
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

// lineWriter сериализует вывод из горутины чтения и из цикла команд
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) writeJSON(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = json.NewEncoder(l.w).Encode(v)
}

func (l *lineWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}
