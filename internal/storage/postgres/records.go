package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/threadharvest/threadharvest/internal/crawler"
)

// RecordStore persists crawled thread records. First write wins: saving a
// thread id that already exists is a no-op, never an update.
type RecordStore struct {
	db db
}

// NewRecordStore wraps a connection pool.
func NewRecordStore(conn db) *RecordStore {
	return &RecordStore{db: conn}
}

// Exists reports whether a thread id is already stored.
func (s *RecordStore) Exists(ctx context.Context, tid string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM magnet_links WHERE tid = $1)`, tid,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check thread %s: %w", tid, err)
	}
	return exists, nil
}

// Save inserts a record, silently keeping the existing row on conflict.
func (s *RecordStore) Save(ctx context.Context, record crawler.ThreadRecord) error {
	magnets, err := json.Marshal(record.Magnets)
	if err != nil {
		return fmt.Errorf("encode magnets: %w", err)
	}
	covers, err := json.Marshal(record.CoverImages)
	if err != nil {
		return fmt.Errorf("encode cover images: %w", err)
	}
	images, err := json.Marshal(record.AllImages)
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO magnet_links (
			tid, title, content, url, code, author, size, is_uncensored,
			forum_id, forum_name, magnets, cover_images, all_images,
			cover_url, crawled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (tid) DO NOTHING`,
		record.TID, record.Title, record.Content, record.URL, record.Code,
		record.Author, record.Size, record.IsUncensored, record.ForumID,
		record.ForumName, magnets, covers, images, record.CoverURL(),
		record.CrawledAt,
	)
	if err != nil {
		return fmt.Errorf("insert thread %s: %w", record.TID, err)
	}
	return nil
}

// CountByForum returns the number of stored records for one forum.
func (s *RecordStore) CountByForum(ctx context.Context, forumID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM magnet_links WHERE forum_id = $1`, forumID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count forum %s: %w", forumID, err)
	}
	return count, nil
}

// List returns recent records, newest first, optionally filtered by forum.
func (s *RecordStore) List(ctx context.Context, forumID string, limit, offset int) ([]crawler.ThreadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT tid, title, content, url, code, author, size, is_uncensored,
		       forum_id, forum_name, magnets, cover_images, all_images, crawled_at
		FROM magnet_links`
	args := []any{}
	if forumID != "" {
		query += ` WHERE forum_id = $1 ORDER BY crawled_at DESC LIMIT $2 OFFSET $3`
		args = append(args, forumID, limit, offset)
	} else {
		query += ` ORDER BY crawled_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []crawler.ThreadRecord
	for rows.Next() {
		var (
			rec     crawler.ThreadRecord
			magnets []byte
			covers  []byte
			images  []byte
			crawled time.Time
		)
		if err := rows.Scan(
			&rec.TID, &rec.Title, &rec.Content, &rec.URL, &rec.Code,
			&rec.Author, &rec.Size, &rec.IsUncensored, &rec.ForumID,
			&rec.ForumName, &magnets, &covers, &images, &crawled,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(magnets, &rec.Magnets); err != nil {
			return nil, fmt.Errorf("decode magnets for %s: %w", rec.TID, err)
		}
		if err := json.Unmarshal(covers, &rec.CoverImages); err != nil {
			return nil, fmt.Errorf("decode cover images for %s: %w", rec.TID, err)
		}
		if err := json.Unmarshal(images, &rec.AllImages); err != nil {
			return nil, fmt.Errorf("decode images for %s: %w", rec.TID, err)
		}
		rec.CrawledAt = crawled
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
