// Package library owns the persistent photo and album collections and the
// in-memory working set of the current album.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"photosplat/internal/notify"
	"photosplat/internal/thumbs"
	"photosplat/pkg/domain"
	"photosplat/pkg/storage"
	"photosplat/pkg/store"
)

// ErrAlbumNotFound reports an operation against an unknown album.
var ErrAlbumNotFound = errors.New("album not found")

const presignExpiry = 15 * time.Minute

// SourceFile is one candidate upload. ContentType may be empty; the
// content is sniffed in that case.
type SourceFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Config wires the library's collaborators.
type Config struct {
	Store            store.Store
	Objects          storage.ObjectStore
	Notifier         *notify.Notifier
	DefaultAlbumName string
	Logger           *slog.Logger
}

// Library mediates all photo/album state. Exactly one album is current at
// any time and the working set holds only that album's photos, in
// insertion order.
type Library struct {
	store    store.Store
	objects  storage.ObjectStore
	notifier *notify.Notifier
	logger   *slog.Logger

	defaultAlbumName string

	mu      sync.Mutex
	current domain.Album
	photos  []domain.Photo
}

func New(cfg Config) (*Library, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	name := strings.TrimSpace(cfg.DefaultAlbumName)
	if name == "" {
		name = "My Photos"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		store:            cfg.Store,
		objects:          cfg.Objects,
		notifier:         cfg.Notifier,
		defaultAlbumName: name,
		logger:           logger.With("component", "library"),
	}, nil
}

// Initialize loads all albums, creating and persisting the default album
// when none exist, then loads the first album's photos as the working set.
// Other albums' photos stay on disk until switched to.
func (l *Library) Initialize(ctx context.Context) error {
	albums, err := l.store.ListAlbums()
	if err != nil {
		return err
	}
	if len(albums) == 0 {
		album := domain.Album{
			ID:        uuid.NewString(),
			Name:      l.defaultAlbumName,
			CreatedAt: time.Now().UTC(),
		}
		if err := l.store.SaveAlbum(album); err != nil {
			return err
		}
		albums = []domain.Album{album}
	}
	photos, err := l.store.ListPhotosByAlbum(albums[0].ID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.current = albums[0]
	l.photos = photos
	l.mu.Unlock()

	l.notifier.AlbumsChanged(albums)
	l.notifier.PhotosChanged(photos)
	return nil
}

// AddFromSource persists the image files among the candidates and returns
// the accepted subset. Non-image files are silently skipped and never fail
// the batch. Accepted photos start with splatStatus=pending; the target
// album's photo count is updated and its cover is set from the first photo
// it ever receives.
func (l *Library) AddFromSource(ctx context.Context, files []SourceFile, targetAlbumID string) ([]domain.Photo, error) {
	if targetAlbumID == "" {
		targetAlbumID = l.CurrentAlbum().ID
	}
	album, ok, err := l.store.GetAlbum(targetAlbumID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlbumNotFound
	}

	accepted := make([]domain.Photo, 0, len(files))
	for _, f := range files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(f.Data)
		}
		if !strings.HasPrefix(contentType, "image/") {
			l.logger.Debug("skipping non-image file", "name", f.Name, "content_type", contentType)
			continue
		}

		photo, err := l.ingest(ctx, f, contentType, album.ID)
		if err != nil {
			return accepted, err
		}

		album.PhotoCount++
		if album.CoverKey == "" {
			album.CoverKey = photo.ThumbKey
			if album.CoverKey == "" {
				album.CoverKey = photo.StorageKey
			}
		}
		if err := l.store.SaveAlbum(album); err != nil {
			return accepted, err
		}
		accepted = append(accepted, photo)
	}

	l.mu.Lock()
	if album.ID == l.current.ID {
		l.current = album
		l.photos = append(l.photos, accepted...)
	}
	snapshot := clonePhotos(l.photos)
	l.mu.Unlock()

	if len(accepted) > 0 {
		l.notifier.PhotosChanged(snapshot)
		l.publishAlbums()
	}
	return accepted, nil
}

// ingest stores one accepted file's content and thumbnail and persists the
// photo record. Content ownership transfers here: the bytes live in the
// object store from now on.
func (l *Library) ingest(ctx context.Context, f SourceFile, contentType, albumID string) (domain.Photo, error) {
	id := uuid.NewString()
	key := path.Join("photos", id, sanitizeFilename(f.Name))

	meta := map[string]string{}
	thumbKey := ""
	thumb, err := thumbs.FromBytes(f.Data)
	if err != nil {
		// Not fatal: the decoder handles fewer formats than the sniffer.
		l.logger.Warn("thumbnail derivation failed", "name", f.Name, "err", err)
	} else {
		thumbKey = path.Join("thumbs", id+".jpg")
		meta["width"] = strconv.Itoa(thumb.Width)
		meta["height"] = strconv.Itoa(thumb.Height)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.objects.Put(gctx, key, bytes.NewReader(f.Data), int64(len(f.Data)), contentType)
	})
	if thumbKey != "" {
		g.Go(func() error {
			return l.objects.Put(gctx, thumbKey, bytes.NewReader(thumb.Data), int64(len(thumb.Data)), "image/jpeg")
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Photo{}, fmt.Errorf("store photo content: %w", err)
	}

	now := time.Now().UTC()
	photo := domain.Photo{
		ID:          id,
		AlbumID:     albumID,
		Name:        f.Name,
		StorageKey:  key,
		ThumbKey:    thumbKey,
		ContentType: contentType,
		SizeBytes:   int64(len(f.Data)),
		SplatStatus: domain.SplatPending,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.store.SavePhoto(photo); err != nil {
		_ = l.objects.Delete(ctx, key)
		if thumbKey != "" {
			_ = l.objects.Delete(ctx, thumbKey)
		}
		return domain.Photo{}, err
	}
	return photo, nil
}

// GetAll returns photos in insertion order. An empty albumID (or the
// current album's id) reads the working set; other albums are read from
// the store without disturbing the working set.
func (l *Library) GetAll(ctx context.Context, albumID string) ([]domain.Photo, error) {
	l.mu.Lock()
	if albumID == "" || albumID == l.current.ID {
		snapshot := clonePhotos(l.photos)
		l.mu.Unlock()
		return snapshot, nil
	}
	l.mu.Unlock()
	return l.store.ListPhotosByAlbum(albumID)
}

// SwitchAlbum replaces the working set with the named album's photos.
func (l *Library) SwitchAlbum(ctx context.Context, albumID string) error {
	album, ok, err := l.store.GetAlbum(albumID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlbumNotFound
	}
	photos, err := l.store.ListPhotosByAlbum(albumID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.current = album
	l.photos = photos
	snapshot := clonePhotos(photos)
	l.mu.Unlock()

	l.notifier.PhotosChanged(snapshot)
	return nil
}

// UpdateSplatStatus advances a photo's splat status and persists it.
// Unknown photo ids and backward transitions are silent no-ops.
func (l *Library) UpdateSplatStatus(ctx context.Context, photoID string, status domain.SplatStatus, assetURL string) error {
	photo, ok, err := l.store.GetPhoto(photoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !photo.SplatStatus.Advances(status) {
		l.logger.Debug("ignoring splat status regression",
			"photo_id", photoID, "from", photo.SplatStatus, "to", status)
		return nil
	}
	if err := l.store.SetSplatStatus(photoID, status, assetURL); err != nil {
		return err
	}

	l.mu.Lock()
	for i := range l.photos {
		if l.photos[i].ID == photoID {
			l.photos[i].SplatStatus = status
			if assetURL != "" {
				l.photos[i].SplatURL = assetURL
			}
			l.photos[i].UpdatedAt = time.Now().UTC()
			break
		}
	}
	snapshot := clonePhotos(l.photos)
	l.mu.Unlock()

	l.notifier.PhotosChanged(snapshot)
	return nil
}

// CreateAlbum creates, persists, and announces a new empty album. The
// current album does not change.
func (l *Library) CreateAlbum(ctx context.Context, name string) (domain.Album, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Album{}, fmt.Errorf("album name required")
	}
	album := domain.Album{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.SaveAlbum(album); err != nil {
		return domain.Album{}, err
	}
	l.publishAlbums()
	return album, nil
}

// Albums lists all albums in creation order.
func (l *Library) Albums(ctx context.Context) ([]domain.Album, error) {
	return l.store.ListAlbums()
}

// CurrentAlbum returns the album backing the working set.
func (l *Library) CurrentAlbum() domain.Album {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// GetPhoto reads one photo from the store.
func (l *Library) GetPhoto(ctx context.Context, id string) (domain.Photo, bool, error) {
	return l.store.GetPhoto(id)
}

// ContentURL mints a short-lived URL for a photo's original content.
// Stores without presign support return storage.ErrPresignUnsupported.
func (l *Library) ContentURL(ctx context.Context, photoID string) (string, error) {
	photo, ok, err := l.store.GetPhoto(photoID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("photo not found")
	}
	return l.objects.PresignGet(ctx, photo.StorageKey, presignExpiry)
}

// ReadContent loads a photo's raw bytes from the object store.
func (l *Library) ReadContent(ctx context.Context, photoID string) ([]byte, error) {
	photo, ok, err := l.store.GetPhoto(photoID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("photo not found")
	}
	rc, err := l.objects.Get(ctx, photo.StorageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// DeletePhoto removes a photo's record and content and updates the album
// count. The album cover is never rewritten, even when its photo goes.
func (l *Library) DeletePhoto(ctx context.Context, photoID string) error {
	photo, ok, err := l.store.GetPhoto(photoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := l.store.DeletePhoto(photoID); err != nil {
		return err
	}
	_ = l.objects.Delete(ctx, photo.StorageKey)
	if photo.ThumbKey != "" {
		_ = l.objects.Delete(ctx, photo.ThumbKey)
	}
	if album, ok, err := l.store.GetAlbum(photo.AlbumID); err == nil && ok && album.PhotoCount > 0 {
		album.PhotoCount--
		if err := l.store.SaveAlbum(album); err != nil {
			return err
		}
	}

	l.mu.Lock()
	if photo.AlbumID == l.current.ID {
		filtered := l.photos[:0]
		for _, p := range l.photos {
			if p.ID != photoID {
				filtered = append(filtered, p)
			}
		}
		l.photos = filtered
		if l.current.PhotoCount > 0 {
			l.current.PhotoCount--
		}
	}
	snapshot := clonePhotos(l.photos)
	l.mu.Unlock()

	l.notifier.PhotosChanged(snapshot)
	l.publishAlbums()
	return nil
}

func (l *Library) publishAlbums() {
	albums, err := l.store.ListAlbums()
	if err != nil {
		l.logger.Warn("album snapshot failed", "err", err)
		return
	}
	l.notifier.AlbumsChanged(albums)
}

func clonePhotos(photos []domain.Photo) []domain.Photo {
	out := make([]domain.Photo, len(photos))
	copy(out, photos)
	return out
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	cleaned := strings.Trim(b.String(), "_")
	if cleaned == "" {
		return "photo"
	}
	return cleaned
}
