package store

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/secureqr/qr-sentinel/internal/model"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	stop chan struct{}
}

func NewSQLite(dbPath string) (Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1) // SQLite doesn't handle concurrent writes well
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS verdict_cache (
			url        TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			safety     TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_expires_at ON verdict_cache(expires_at)`); err != nil {
		db.Close()
		return nil, err
	}

	s := &sqliteStore{
		db:   db,
		stop: make(chan struct{}),
	}
	go s.cleanupLoop()

	log.Printf("[store] SQLite verdict cache opened: %s", dbPath)
	return s, nil
}

func (s *sqliteStore) Get(key string) (*model.Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(
		"SELECT data FROM verdict_cache WHERE url = ? AND expires_at > ?",
		key, time.Now().Unix(),
	).Scan(&data)
	if err != nil {
		return nil, false
	}

	var v model.Verdict
	if json.Unmarshal([]byte(data), &v) != nil {
		return nil, false
	}
	return &v, true
}

func (s *sqliteStore) Set(key string, v *model.Verdict, expiresAt int64) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.db.Exec(
		`INSERT INTO verdict_cache (url, data, safety, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET data=excluded.data, safety=excluded.safety, expires_at=excluded.expires_at`,
		key, string(data), string(v.Safety), expiresAt,
	)
}

func (s *sqliteStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM verdict_cache").Scan(&count); err != nil {
		return 0
	}
	return count
}

func (s *sqliteStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM verdict_cache WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		log.Printf("[store] SQLite cleanup error: %v", err)
		return
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		log.Printf("[store] SQLite cleanup: removed %d expired entries", affected)
	}
}

func (s *sqliteStore) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *sqliteStore) Close() {
	close(s.stop)
	s.db.Close()
	log.Printf("[store] SQLite verdict cache closed")
}
