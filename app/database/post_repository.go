package database

import (
	"database/sql"
	"fmt"
)

type SQLPostRepository struct {
	db *DB
}

var _ PostRepository = (*SQLPostRepository)(nil)

func NewPostRepository(db *DB) *SQLPostRepository {
	return &SQLPostRepository{db: db}
}

// InsertPostIfAbsent relies on the primary key: a conflicting insert is the
// duplicate signal, in addition to any application-level pre-check.
func (r *SQLPostRepository) InsertPostIfAbsent(post Post) (bool, error) {
	res, err := r.db.Exec(`
		INSERT INTO posts (id, description, url, discovered_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, post.ID, post.Description, post.URL, post.DiscoveredAt, post.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert post: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *SQLPostRepository) GetPost(id string) (*Post, error) {
	var post Post
	err := r.db.QueryRow(`
		SELECT id, description, url, discovered_at, created_at
		FROM posts
		WHERE id = ?
	`, id).Scan(&post.ID, &post.Description, &post.URL, &post.DiscoveredAt, &post.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

func (r *SQLPostRepository) GetPostCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM posts").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get post count: %w", err)
	}
	return count, nil
}
