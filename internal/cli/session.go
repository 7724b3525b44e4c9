package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"coachapp/internal/client"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

const defaultServerURL = "http://localhost:8080"

var serverURL string

// BindFlags регистрирует общие флаги корневой команды
func BindFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&serverURL, "url", "", "Server URL (default from saved session or "+defaultServerURL+")")
}

// savedSession - результат login, хранится между вызовами
type savedSession struct {
	URL      string `yaml:"url"`
	UserID   string `yaml:"user_id"`
	Nickname string `yaml:"nickname"`
	Token    string `yaml:"token"`
}

// sessionPath: COACHCTL_SESSION или <user config dir>/coachctl/session.yaml
func sessionPath() (string, error) {
	if path := os.Getenv("COACHCTL_SESSION"); path != "" {
		return path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config dir: %w", err)
	}
	return filepath.Join(dir, "coachctl", "session.yaml"), nil
}

func loadSession() (*savedSession, error) {
	path, err := sessionPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &savedSession{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	session := &savedSession{}
	if err := yaml.Unmarshal(data, session); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	return session, nil
}

func saveSession(session *savedSession) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func removeSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

func resolveURL(session *savedSession) string {
	switch {
	case serverURL != "":
		return serverURL
	case session != nil && session.URL != "":
		return session.URL
	default:
		return defaultServerURL
	}
}

// authorizedClient - клиент с токеном из сохраненной сессии
func authorizedClient() (*client.Client, *savedSession, error) {
	session, err := loadSession()
	if err != nil {
		return nil, nil, err
	}
	if session.Token == "" {
		return nil, nil, fmt.Errorf("not logged in, run: coachctl login <nickname>")
	}
	return client.New(resolveURL(session), session.Token), session, nil
}

// NewContext отменяется по Ctrl+C
func NewContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
