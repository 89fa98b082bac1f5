package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"photosplat/pkg/domain"
)

// GORM models used for persistence.
type AlbumModel struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	PhotoCount int    `gorm:"not null"`
	CoverKey   string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

type PhotoModel struct {
	ID          string `gorm:"primaryKey"`
	AlbumID     string `gorm:"not null;index"`
	Name        string `gorm:"not null"`
	StorageKey  string `gorm:"not null"`
	ThumbKey    string
	ContentType string
	SizeBytes   int64  `gorm:"not null"`
	SplatStatus string `gorm:"not null;default:none"`
	SplatURL    string
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null;index"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func albumToModel(a domain.Album) AlbumModel {
	return AlbumModel{
		ID:         a.ID,
		Name:       a.Name,
		PhotoCount: a.PhotoCount,
		CoverKey:   a.CoverKey,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  time.Now().UTC(),
	}
}

func albumFromModel(m AlbumModel) domain.Album {
	return domain.Album{
		ID:         m.ID,
		Name:       m.Name,
		PhotoCount: m.PhotoCount,
		CoverKey:   m.CoverKey,
		CreatedAt:  m.CreatedAt,
	}
}

func photoToModel(p domain.Photo) (PhotoModel, error) {
	var meta datatypes.JSON
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return PhotoModel{}, err
		}
		meta = datatypes.JSON(raw)
	}
	return PhotoModel{
		ID:          p.ID,
		AlbumID:     p.AlbumID,
		Name:        p.Name,
		StorageKey:  p.StorageKey,
		ThumbKey:    p.ThumbKey,
		ContentType: p.ContentType,
		SizeBytes:   p.SizeBytes,
		SplatStatus: string(p.SplatStatus),
		SplatURL:    p.SplatURL,
		Metadata:    meta,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func photoFromModel(m PhotoModel) domain.Photo {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.Photo{
		ID:          m.ID,
		AlbumID:     m.AlbumID,
		Name:        m.Name,
		StorageKey:  m.StorageKey,
		ThumbKey:    m.ThumbKey,
		ContentType: m.ContentType,
		SizeBytes:   m.SizeBytes,
		SplatStatus: domain.SplatStatus(m.SplatStatus),
		SplatURL:    m.SplatURL,
		Metadata:    meta,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
