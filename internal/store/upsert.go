package store

import (
	"fmt"
	"strings"
)

// upsertSQL builds an insert-or-update statement keyed by key. Every column
// other than the key is overwritten on conflict.
func (db *DB) upsertSQL(table, key string, cols ...string) string {
	all := append([]string{key}, cols...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")

	var sets []string
	for _, c := range cols {
		if db.dialect == MySQL {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		} else {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}

	conflict := fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET", key)
	if db.dialect == MySQL {
		conflict = "ON DUPLICATE KEY UPDATE"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s %s",
		table, strings.Join(all, ", "), placeholders, conflict, strings.Join(sets, ", "))
}
