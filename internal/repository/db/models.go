package db

import "time"

// Role of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a storable turn role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn represents one stored message in a user's session
type Turn struct {
	ID        string
	Seq       int64
	UserID    int64
	Role      Role
	Content   string
	CreatedAt time.Time
}

// UserStats represents persisted per-user usage
type UserStats struct {
	UserID         int64
	MessageCount   int64
	TotalCharsSent int64
	ResetCount     int64
	FirstSeen      time.Time
	LastActive     time.Time
}

// TopUser is a user ranked by message count
type TopUser struct {
	UserID       int64
	MessageCount int64
}

// StoreSnapshot represents persisted aggregate usage
type StoreSnapshot struct {
	TotalUsers     int64
	TotalMessages  int64
	ActiveToday    int64
	HistoryEntries int64
	TotalChars     int64
	TopUsers       []TopUser
	Counters       map[string]int64
}
