package store

import (
	"context"
	"fmt"
)

// UpsertContact inserts or updates a contact keyed by chat id, stamping
// LastUpdated with the current time on every call.
func (db *DB) UpsertContact(ctx context.Context, c *Contact) error {
	c.LastUpdated = db.now().UnixMilli()
	q := db.upsertSQL("contacts", "id", "name", "number", "push_name", "is_group", "last_updated")
	if _, err := db.ExecContext(ctx, q, c.ID, c.Name, c.Number, c.PushName, c.IsGroup, c.LastUpdated); err != nil {
		return fmt.Errorf("upsert contact %q: %w", c.ID, classify(err))
	}
	return nil
}

// AllContacts returns every contact, most recently updated first.
func (db *DB) AllContacts(ctx context.Context) ([]Contact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, number, push_name, is_group, last_updated
		FROM contacts
		ORDER BY last_updated DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("all contacts: %w", classify(err))
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Number, &c.PushName, &c.IsGroup, &c.LastUpdated); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Counts returns the number of rows in each table.
func (db *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM contacts),
			(SELECT COUNT(*) FROM media)`).Scan(&c.Messages, &c.Contacts, &c.Media)
	if err != nil {
		return Counts{}, fmt.Errorf("counts: %w", classify(err))
	}
	return c, nil
}
