package store

import (
	"fmt"

	"photosplat/pkg/domain"
)

// Store defines persistence operations for photos and albums.
// Reads for a nonexistent id return ok=false with a nil error;
// persistence-layer faults are reported as *StorageError.
type Store interface {
	// albums
	SaveAlbum(domain.Album) error
	GetAlbum(id string) (domain.Album, bool, error)
	ListAlbums() ([]domain.Album, error)

	// photos
	SavePhoto(domain.Photo) error
	GetPhoto(id string) (domain.Photo, bool, error)
	ListPhotosByAlbum(albumID string) ([]domain.Photo, error)
	SetSplatStatus(id string, status domain.SplatStatus, splatURL string) error
	DeletePhoto(id string) error
}

// StorageError wraps a persistence-layer fault.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
