package docstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// DatabaseFilename is the snapshot database file inside a snapshot directory.
const DatabaseFilename = "chunks.db"

// Keys of the optional snapshot_meta table.
const (
	MetaSnapshotVersion = "snapshot_version"
	MetaEmbeddingModel  = "embedding_model"
)

const schema = `
CREATE TABLE chunks (
	id           TEXT PRIMARY KEY,
	text         TEXT NOT NULL,
	embedding    BLOB NOT NULL,
	version      TEXT NOT NULL,
	language     TEXT NOT NULL,
	source_path  TEXT NOT NULL,
	title        TEXT,
	url          TEXT,
	component    TEXT,
	last_updated TEXT
);
CREATE TABLE snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// databaseContents is everything read out of a snapshot database.
type databaseContents struct {
	meta   map[string]string
	chunks []domain.DocumentChunk
}

// readDatabase loads every chunk of a snapshot database opened read-only.
// Rows that cannot be decoded fail the whole read.
func readDatabase(ctx context.Context, path string) (*databaseContents, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("snapshot database %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening snapshot database: %w", err)
	}
	defer func() { _ = db.Close() }()

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, text, embedding, version, language, source_path,
		       title, url, component, last_updated
		FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []domain.DocumentChunk
	for rows.Next() {
		var (
			c                                 domain.DocumentChunk
			blob                              []byte
			title, url, component, lastUpdate sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Text, &blob, &c.Version, &c.Language, &c.SourcePath,
			&title, &url, &component, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		c.Embedding, err = decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %q: %w", c.ID, err)
		}
		c.Title = title.String
		c.URL = url.String
		c.Component = component.String
		c.LastUpdated = lastUpdate.String
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}

	return &databaseContents{meta: meta, chunks: chunks}, nil
}

func readMeta(ctx context.Context, db *sql.DB) (map[string]string, error) {
	meta := make(map[string]string)

	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'snapshot_meta'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return meta, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inspecting snapshot schema: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM snapshot_meta`)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning snapshot metadata: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// WriteDatabase creates a snapshot database at path holding chunks. An existing
// file at path is replaced. version and model are recorded in snapshot_meta
// when non-empty.
func WriteDatabase(path, version, model string, chunks []domain.DocumentChunk) (err error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing existing database: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("creating snapshot database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, text, embedding, version, language, source_path,
		                    title, url, component, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		if _, err = stmt.Exec(c.ID, c.Text, encodeEmbedding(c.Embedding), c.Version, c.Language, c.SourcePath,
			nullable(c.Title), nullable(c.URL), nullable(c.Component), nullable(c.LastUpdated)); err != nil {
			return fmt.Errorf("inserting chunk %q: %w", c.ID, err)
		}
	}

	for _, kv := range [][2]string{{MetaSnapshotVersion, version}, {MetaEmbeddingModel, model}} {
		if kv[1] == "" {
			continue
		}
		if _, err = tx.Exec(`INSERT INTO snapshot_meta (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("inserting snapshot metadata: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot database: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob of %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
