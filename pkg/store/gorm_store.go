package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"photosplat/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&AlbumModel{}, &PhotoModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveAlbum(a domain.Album) error {
	m := albumToModel(a)
	return storageErr("save album", s.db.Save(&m).Error)
}

func (s *GormStore) GetAlbum(id string) (domain.Album, bool, error) {
	var m AlbumModel
	err := s.db.First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Album{}, false, nil
	}
	if err != nil {
		return domain.Album{}, false, storageErr("get album", err)
	}
	return albumFromModel(m), true, nil
}

func (s *GormStore) ListAlbums() ([]domain.Album, error) {
	var models []AlbumModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, storageErr("list albums", err)
	}
	albums := make([]domain.Album, 0, len(models))
	for _, m := range models {
		albums = append(albums, albumFromModel(m))
	}
	return albums, nil
}

func (s *GormStore) SavePhoto(p domain.Photo) error {
	m, err := photoToModel(p)
	if err != nil {
		return storageErr("encode photo", err)
	}
	return storageErr("save photo", s.db.Save(&m).Error)
}

func (s *GormStore) GetPhoto(id string) (domain.Photo, bool, error) {
	var m PhotoModel
	err := s.db.First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Photo{}, false, nil
	}
	if err != nil {
		return domain.Photo{}, false, storageErr("get photo", err)
	}
	return photoFromModel(m), true, nil
}

// ListPhotosByAlbum returns the album's photos in insertion order.
func (s *GormStore) ListPhotosByAlbum(albumID string) ([]domain.Photo, error) {
	var models []PhotoModel
	err := s.db.Where("album_id = ?", albumID).Order("created_at ASC").Find(&models).Error
	if err != nil {
		return nil, storageErr("list photos", err)
	}
	photos := make([]domain.Photo, 0, len(models))
	for _, m := range models {
		photos = append(photos, photoFromModel(m))
	}
	return photos, nil
}

func (s *GormStore) SetSplatStatus(id string, status domain.SplatStatus, splatURL string) error {
	updates := map[string]any{
		"splat_status": string(status),
		"updated_at":   time.Now().UTC(),
	}
	if splatURL != "" {
		updates["splat_url"] = splatURL
	}
	err := s.db.Model(&PhotoModel{}).Where("id = ?", id).Updates(updates).Error
	return storageErr("set splat status", err)
}

func (s *GormStore) DeletePhoto(id string) error {
	return storageErr("delete photo", s.db.Delete(&PhotoModel{}, "id = ?", id).Error)
}
