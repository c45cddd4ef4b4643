package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	uri     TEXT PRIMARY KEY,
	content BLOB NOT NULL
)`

// SQLStore serves documents from the documents table of a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) the SQLite database at dsn.
func OpenSQL(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening document database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing document database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Load reads the document stored under uri.
func (s *SQLStore) Load(ctx context.Context, uri string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE uri = ?`, uri).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Put stores content under uri, replacing any existing document.
func (s *SQLStore) Put(ctx context.Context, uri string, content []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (uri, content) VALUES (?, ?)
		 ON CONFLICT(uri) DO UPDATE SET content = excluded.content`, uri, content)
	return err
}

// URIs lists the stored document URIs in order.
func (s *SQLStore) URIs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uri FROM documents ORDER BY uri`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		out = append(out, uri)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
