package entities

import "time"

// Entity is an isolation boundary for data and permissions. Entities form a
// tree through ParentID; a nil parent marks a root.
type Entity struct {
	ID        int64
	Name      string
	ParentID  *int64
	CreatedAt time.Time
}
