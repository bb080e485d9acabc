package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	perr "ocr-labeler/internal/errors"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the dataset in an items table, one row per record.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, perr.IOFailuref(err, "open %s", path)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id              TEXT NOT NULL DEFAULT '',
		company_name           TEXT NOT NULL,
		item_name              TEXT NOT NULL,
		category               TEXT NOT NULL,
		storage_recommendation TEXT NOT NULL,
		ocr_text_list          TEXT NOT NULL,
		timestamp              TEXT NOT NULL,
		created_at             DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_items_company ON items(company_name);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, perr.IOFailuref(err, "init schema in %s", path)
	}
	return &SQLiteStore{db: db}, nil
}

// Append inserts rec in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, rec ItemRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	list, err := json.Marshal(rec.OCRTextList)
	if err != nil {
		return perr.IOFailuref(err, "encode ocr_text_list")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return perr.IOFailuref(err, "begin append")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO items (record_id, company_name, item_name, category, storage_recommendation, ocr_text_list, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CompanyName, rec.ItemName, rec.Category, rec.StorageRecommendation,
		string(list), rec.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return perr.IOFailuref(err, "insert item")
	}
	if err := tx.Commit(); err != nil {
		return perr.IOFailuref(err, "commit append")
	}
	return nil
}

// Load returns every record in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) ([]ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, company_name, item_name, category, storage_recommendation, ocr_text_list, timestamp
		 FROM items ORDER BY id`)
	if err != nil {
		return nil, perr.IOFailuref(err, "query items")
	}
	defer rows.Close()

	records := []ItemRecord{}
	for rows.Next() {
		var (
			rec      ItemRecord
			list, ts string
		)
		if err := rows.Scan(&rec.ID, &rec.CompanyName, &rec.ItemName, &rec.Category,
			&rec.StorageRecommendation, &list, &ts); err != nil {
			return nil, perr.IOFailuref(err, "scan item")
		}
		if err := json.Unmarshal([]byte(list), &rec.OCRTextList); err != nil {
			return nil, perr.CorruptStoref(err, "item %q has an unreadable ocr_text_list", rec.ID)
		}
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, perr.CorruptStoref(err, "item %q has an unreadable timestamp", rec.ID)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, perr.IOFailuref(err, "iterate items")
	}
	return records, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
