// Package notify delivers library change events to interested consumers,
// typically a viewer UI listening on the SSE endpoint.
package notify

import (
	"sync"

	"photosplat/pkg/domain"
)

type EventType string

const (
	TypePhotos     EventType = "photos"
	TypeAlbums     EventType = "albums"
	TypeSplatReady EventType = "splat_ready"
)

// Event is one notification. Snapshot events carry the full current
// collection; splat_ready carries the discrete (photo, asset) pair.
type Event struct {
	Type     EventType      `json:"type"`
	Photos   []domain.Photo `json:"photos,omitempty"`
	Albums   []domain.Album `json:"albums,omitempty"`
	PhotoID  string         `json:"photoId,omitempty"`
	AssetURL string         `json:"assetUrl,omitempty"`
}

const subscriberBuffer = 16

// Notifier is an in-process pub-sub hub. Publishing never blocks: events
// for a subscriber whose buffer is full are dropped.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel func unregisters it
// and closes the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	ch := make(chan Event, subscriberBuffer)
	n.subs[id] = ch
	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish fans the event out to all subscribers.
func (n *Notifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PhotosChanged publishes a full photo snapshot.
func (n *Notifier) PhotosChanged(photos []domain.Photo) {
	n.Publish(Event{Type: TypePhotos, Photos: photos})
}

// AlbumsChanged publishes a full album snapshot.
func (n *Notifier) AlbumsChanged(albums []domain.Album) {
	n.Publish(Event{Type: TypeAlbums, Albums: albums})
}

// SplatReady announces a finished splat for insertion into the viewer.
func (n *Notifier) SplatReady(photoID, assetURL string) {
	n.Publish(Event{Type: TypeSplatReady, PhotoID: photoID, AssetURL: assetURL})
}
