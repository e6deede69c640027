package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS arrays (
    name  TEXT PRIMARY KEY,
    dtype TEXT NOT NULL,
    shape TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS array_rows (
    name TEXT NOT NULL,
    idx  INTEGER NOT NULL,
    data BLOB,
    PRIMARY KEY(name, idx)
);`

// openSQLite opens a SQLite database using the modernc.org/sqlite driver.
func openSQLite(dsn string) (*sql.DB, error) { return sql.Open("sqlite", dsn) }

// writeSQLite stores every array as one BLOB per slice along its first axis,
// so a single frame can be read without loading the whole archive.
func writeSQLite(ctx context.Context, db *sql.DB, arrays []*Array) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("archive: create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	meta, err := tx.PrepareContext(ctx, `INSERT INTO arrays(name, dtype, shape) VALUES(?, ?, ?)`)
	if err != nil {
		return err
	}
	defer meta.Close()

	rows, err := tx.PrepareContext(ctx, `INSERT INTO array_rows(name, idx, data) VALUES(?, ?, ?)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for _, a := range arrays {
		shape, err := json.Marshal(a.Shape)
		if err != nil {
			return err
		}
		if _, err := meta.ExecContext(ctx, a.Name, a.DType(), string(shape)); err != nil {
			return fmt.Errorf("archive: insert %s: %w", a.Name, err)
		}

		if len(a.Shape) == 0 {
			if _, err := rows.ExecContext(ctx, a.Name, 0, a.encode(0, a.Len())); err != nil {
				return fmt.Errorf("archive: insert %s: %w", a.Name, err)
			}
			continue
		}

		step := a.rowSize()
		for i := 0; i < a.Shape[0]; i++ {
			if _, err := rows.ExecContext(ctx, a.Name, i, a.encode(i*step, (i+1)*step)); err != nil {
				return fmt.Errorf("archive: insert %s[%d]: %w", a.Name, i, err)
			}
		}
	}

	return tx.Commit()
}

func readSQLite(ctx context.Context, db *sql.DB) ([]*Array, error) {
	metaRows, err := db.QueryContext(ctx, `SELECT name, dtype, shape FROM arrays ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer metaRows.Close()

	type header struct {
		name, dtype string
		shape       []int
	}
	var headers []header
	for metaRows.Next() {
		var h header
		var shape string
		if err := metaRows.Scan(&h.name, &h.dtype, &shape); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(shape), &h.shape); err != nil {
			return nil, fmt.Errorf("archive: %s: shape: %w", h.name, err)
		}
		headers = append(headers, h)
	}
	if err := metaRows.Err(); err != nil {
		return nil, err
	}

	arrays := make([]*Array, 0, len(headers))
	for _, h := range headers {
		data, err := readSQLiteRows(ctx, db, h.name)
		if err != nil {
			return nil, err
		}
		a := &Array{Name: h.name, Shape: h.shape}
		if err := decodeInto(a, h.dtype, data); err != nil {
			return nil, err
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		arrays = append(arrays, a)
	}
	return arrays, nil
}

func readSQLiteRows(ctx context.Context, db *sql.DB, name string) ([]byte, error) {
	rows, err := db.QueryContext(ctx, `SELECT data FROM array_rows WHERE name = ? ORDER BY idx`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, rows.Err()
}
