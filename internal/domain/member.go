package domain

// Member is a peer's participation in a room.
// A url belongs to at most one room at a time.
type Member struct {
	URL  PeerURL  `json:"url"`
	Room RoomName `json:"room"`
}
