package domain

import "time"

// SplatStatus tracks the lifecycle of a photo's 3D splat asset.
// Transitions only ever advance: pending -> processing -> ready|failed.
type SplatStatus string

const (
	SplatNone       SplatStatus = "none"
	SplatPending    SplatStatus = "pending"
	SplatProcessing SplatStatus = "processing"
	SplatReady      SplatStatus = "ready"
	SplatFailed     SplatStatus = "failed"
)

var splatRank = map[SplatStatus]int{
	SplatNone:       0,
	SplatPending:    1,
	SplatProcessing: 2,
	SplatReady:      3,
	SplatFailed:     3,
}

// Advances reports whether moving from s to next is a forward transition.
func (s SplatStatus) Advances(next SplatStatus) bool {
	return splatRank[next] > splatRank[s]
}

// ParseSplatStatus validates a raw status string.
func ParseSplatStatus(raw string) (SplatStatus, bool) {
	switch SplatStatus(raw) {
	case SplatNone, SplatPending, SplatProcessing, SplatReady, SplatFailed:
		return SplatStatus(raw), true
	}
	return "", false
}

type Photo struct {
	ID          string            `json:"id"`
	AlbumID     string            `json:"albumId"`
	Name        string            `json:"name"`
	StorageKey  string            `json:"-"`
	ThumbKey    string            `json:"-"`
	ContentType string            `json:"contentType"`
	SizeBytes   int64             `json:"sizeBytes"`
	SplatStatus SplatStatus       `json:"splatStatus"`
	SplatURL    string            `json:"splatUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type Album struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PhotoCount int       `json:"photoCount"`
	CoverKey   string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}
