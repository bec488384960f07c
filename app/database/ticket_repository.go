package database

import (
	"database/sql"
	"fmt"
	"time"
)

type SQLTicketRepository struct {
	db *DB
}

var _ TicketRepository = (*SQLTicketRepository)(nil)

func NewTicketRepository(db *DB) *SQLTicketRepository {
	return &SQLTicketRepository{db: db}
}

// InsertTicketIfAbsent inserts at most one ticket per post. The UNIQUE
// constraint on post_id turns a losing racer into a no-op instead of an error.
func (r *SQLTicketRepository) InsertTicketIfAbsent(ticket Ticket) (int64, bool, error) {
	res, err := r.db.Exec(`
		INSERT INTO tickets (
			post_id, is_resale, event_name, city, event_date,
			area, price, quantity, contact, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (post_id) DO NOTHING
	`, ticket.PostID, ticket.IsResale, ticket.EventName, ticket.City, ticket.EventDate,
		ticket.Area, ticket.Price, ticket.Quantity, ticket.Contact, ticket.Notes, ticket.CreatedAt)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert ticket: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read insert id: %w", err)
	}
	return id, true, nil
}

func (r *SQLTicketRepository) GetTicketByPostID(postID string) (*Ticket, error) {
	row := r.db.QueryRow(`
		SELECT id, post_id, is_resale, event_name, city, event_date,
		       area, price, quantity, contact, notes, created_at
		FROM tickets
		WHERE post_id = ?
	`, postID)

	ticket, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return ticket, nil
}

func (r *SQLTicketRepository) ListRecentTickets(limit int) ([]Ticket, error) {
	rows, err := r.db.Query(`
		SELECT id, post_id, is_resale, event_name, city, event_date,
		       area, price, quantity, contact, notes, created_at
		FROM tickets
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	return collectTickets(rows)
}

func (r *SQLTicketRepository) ListTicketsSince(since time.Time, limit int) ([]Ticket, error) {
	rows, err := r.db.Query(`
		SELECT id, post_id, is_resale, event_name, city, event_date,
		       area, price, quantity, contact, notes, created_at
		FROM tickets
		WHERE created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets since %s: %w", since, err)
	}
	defer rows.Close()

	return collectTickets(rows)
}

func (r *SQLTicketRepository) GetTicketCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM tickets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get ticket count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*Ticket, error) {
	var ticket Ticket
	err := row.Scan(
		&ticket.ID, &ticket.PostID, &ticket.IsResale, &ticket.EventName, &ticket.City,
		&ticket.EventDate, &ticket.Area, &ticket.Price, &ticket.Quantity,
		&ticket.Contact, &ticket.Notes, &ticket.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func collectTickets(rows *sql.Rows) ([]Ticket, error) {
	var tickets []Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		tickets = append(tickets, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket rows: %w", err)
	}
	return tickets, nil
}
