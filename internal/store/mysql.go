package store

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/secureqr/qr-sentinel/internal/model"

	_ "github.com/go-sql-driver/mysql"
)

type mysqlStore struct {
	db   *sql.DB
	mu   sync.RWMutex
	stop chan struct{}
}

func NewMySQL(dsn string) (Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS verdict_cache (
			url        VARCHAR(768) PRIMARY KEY,
			data       TEXT NOT NULL,
			safety     VARCHAR(10) NOT NULL,
			expires_at BIGINT NOT NULL,
			INDEX idx_expires_at (expires_at)
		)
	`); err != nil {
		db.Close()
		return nil, err
	}

	s := &mysqlStore{
		db:   db,
		stop: make(chan struct{}),
	}
	go s.cleanupLoop()

	log.Printf("[store] MySQL verdict cache opened")
	return s, nil
}

func (s *mysqlStore) Get(key string) (*model.Verdict, bool) {
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

func (s *mysqlStore) Set(key string, v *model.Verdict, expiresAt int64) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.db.Exec(
		`INSERT INTO verdict_cache (url, data, safety, expires_at) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE data=VALUES(data), safety=VALUES(safety), expires_at=VALUES(expires_at)`,
		key, string(data), string(v.Safety), expiresAt,
	)
}

func (s *mysqlStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM verdict_cache").Scan(&count); err != nil {
		return 0
	}
	return count
}

func (s *mysqlStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM verdict_cache WHERE expires_at <= ?", time.Now().Unix())
	if err != nil {
		log.Printf("[store] MySQL cleanup error: %v", err)
		return
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		log.Printf("[store] MySQL cleanup: removed %d expired entries", affected)
	}
}

func (s *mysqlStore) cleanupLoop() {
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

func (s *mysqlStore) Close() {
	close(s.stop)
	s.db.Close()
	log.Printf("[store] MySQL verdict cache closed")
}
