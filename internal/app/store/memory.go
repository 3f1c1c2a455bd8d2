// Package store holds the room membership backends.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
)

// Memory is a threadsafe in-memory membership store. One mutex guards both
// indexes, so each Join and Leave is atomic across them.
type Memory struct {
	mu    sync.RWMutex
	rooms map[domain.RoomName]map[domain.PeerURL]struct{}
	byURL map[domain.PeerURL]domain.RoomName
}

func NewMemory() *Memory {
	return &Memory{
		rooms: make(map[domain.RoomName]map[domain.PeerURL]struct{}),
		byURL: make(map[domain.PeerURL]domain.RoomName),
	}
}

func (m *Memory) Join(_ context.Context, url domain.PeerURL, room domain.RoomName) (domain.RoomName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.byURL[url]
	if prev == room {
		return prev, nil
	}
	if prev != "" {
		m.removeLocked(url, prev)
	}
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[domain.PeerURL]struct{})
		m.rooms[room] = members
	}
	members[url] = struct{}{}
	m.byURL[url] = room
	log.Debug().Str("module", "store.memory").Str("url", string(url)).Str("room", string(room)).Msg("member added")
	return prev, nil
}

func (m *Memory) Leave(_ context.Context, url domain.PeerURL) (domain.RoomName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.byURL[url]
	if !ok {
		return "", nil
	}
	m.removeLocked(url, room)
	log.Debug().Str("module", "store.memory").Str("url", string(url)).Str("room", string(room)).Msg("member removed")
	return room, nil
}

// removeLocked drops url from both indexes and deletes the room once empty.
func (m *Memory) removeLocked(url domain.PeerURL, room domain.RoomName) {
	delete(m.byURL, url)
	members := m.rooms[room]
	delete(members, url)
	if len(members) == 0 {
		delete(m.rooms, room)
	}
}

func (m *Memory) RoomOf(_ context.Context, url domain.PeerURL) (domain.RoomName, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.byURL[url]
	return room, ok, nil
}

func (m *Memory) Members(_ context.Context, room domain.RoomName) ([]domain.PeerURL, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.PeerURL, 0, len(m.rooms[room]))
	for url := range m.rooms[room] {
		out = append(out, url)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *Memory) Rooms(_ context.Context) ([]core.RoomInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(m.rooms))
	for name, members := range m.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: len(members)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Close() error { return nil }
