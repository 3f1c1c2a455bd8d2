package domain

// RoomName is opaque and caller-supplied. The empty name means "not ready yet".
type RoomName string

func (n RoomName) String() string { return string(n) }
