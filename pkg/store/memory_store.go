package store

import (
	"sync"
	"time"

	"photosplat/pkg/domain"
)

// MemoryStore keeps photos and albums in-process. It is the test double
// for GormStore and never returns a StorageError.
type MemoryStore struct {
	mu          sync.RWMutex
	albums      map[string]domain.Album
	albumOrder  []string
	photos      map[string]domain.Photo
	photoOrders []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		albums: make(map[string]domain.Album),
		photos: make(map[string]domain.Photo),
	}
}

// SaveAlbum stores or replaces an album and tracks insertion order.
func (m *MemoryStore) SaveAlbum(a domain.Album) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.albums[a.ID]; !exists {
		m.albumOrder = append(m.albumOrder, a.ID)
	}
	m.albums[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAlbum(id string) (domain.Album, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.albums[id]
	return a, ok, nil
}

func (m *MemoryStore) ListAlbums() ([]domain.Album, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Album, 0, len(m.albumOrder))
	for _, id := range m.albumOrder {
		if a, ok := m.albums[id]; ok {
			res = append(res, a)
		}
	}
	return res, nil
}

// SavePhoto stores or replaces a photo and tracks insertion order.
func (m *MemoryStore) SavePhoto(p domain.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.photos[p.ID]; !exists {
		m.photoOrders = append(m.photoOrders, p.ID)
	}
	m.photos[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPhoto(id string) (domain.Photo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.photos[id]
	return p, ok, nil
}

func (m *MemoryStore) ListPhotosByAlbum(albumID string) ([]domain.Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Photo, 0, len(m.photoOrders))
	for _, id := range m.photoOrders {
		if p, ok := m.photos[id]; ok && p.AlbumID == albumID {
			res = append(res, p)
		}
	}
	return res, nil
}

// SetSplatStatus updates status and optional asset URL. Unknown ids are a no-op.
func (m *MemoryStore) SetSplatStatus(id string, status domain.SplatStatus, splatURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.photos[id]
	if !ok {
		return nil
	}
	p.SplatStatus = status
	if splatURL != "" {
		p.SplatURL = splatURL
	}
	p.UpdatedAt = time.Now().UTC()
	m.photos[id] = p
	return nil
}

func (m *MemoryStore) DeletePhoto(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.photos, id)
	filtered := m.photoOrders[:0]
	for _, item := range m.photoOrders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.photoOrders = filtered
	return nil
}
