package db

import "time"

type Device struct {
	ID        int64      `db:"id"`
	Name      string     `db:"name"`
	Status    string     `db:"status"`
	LastSeen  *time.Time `db:"last_seen"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}
