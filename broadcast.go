package arena

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserId UserId `json:"userId"`
	Name   string `json:"name,omitempty"`
	Score  int    `json:"score"`
}

// GlobalUpdate goes to every connected client on each committed score change.
type GlobalUpdate struct {
	Top       []LeaderboardEntry `json:"top10"`
	Timestamp int64              `json:"timestamp"`
}

// PersonalUpdate goes only to the acting user's own connections.
type PersonalUpdate struct {
	UserId       UserId `json:"userId"`
	Score        int    `json:"score"`
	Rank         int    `json:"rank"`
	PointsEarned int    `json:"pointsEarned"`
	PreviousRank int    `json:"previousRank"`
}

// Broadcaster fans out updates to connected clients. Delivery is best-effort
// and fire-and-forget: a user with no open connection simply misses the event.
type Broadcaster interface {
	PublishGlobal(update GlobalUpdate)

	PublishPersonal(userId UserId, update PersonalUpdate)
}

// Conn is the one thing the hub needs from a live connection.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}
