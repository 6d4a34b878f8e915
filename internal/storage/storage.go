package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"Pairline/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Storage читает метаданные сессий, которые создает внешний сервис сессий.
// История сессии здесь не хранится.
type Storage struct {
	db *sql.DB
}

func NewStorage(connStr string) (*Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Storage{db: db}, nil
}

// Ping проверяет соединение с базой
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) GetSession(ctx context.Context, id string) (models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, code, language FROM collab_sessions WHERE id = $1", id,
	).Scan(&sess.ID, &sess.Code, &sess.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	return sess, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}
