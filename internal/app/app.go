// Package app ties the photo library and the splat backend together: it
// accepts uploads, drives one generation per photo, and reflects every
// outcome back onto the photo's splat status.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"photosplat/internal/library"
	"photosplat/internal/notify"
	"photosplat/internal/splat"
	"photosplat/pkg/domain"
	"photosplat/pkg/storage"
)

// Config wires the orchestrator.
type Config struct {
	Library  *library.Library
	Tracker  *splat.Tracker
	Client   *splat.Client
	Poller   *splat.Poller
	Notifier *notify.Notifier
	Logger   *slog.Logger
}

// App is the orchestration facade behind the HTTP handlers.
type App struct {
	library  *library.Library
	tracker  *splat.Tracker
	client   *splat.Client
	poller   *splat.Poller
	notifier *notify.Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	inWork map[string]struct{}
}

func New(cfg Config) (*App, error) {
	if cfg.Library == nil || cfg.Tracker == nil || cfg.Client == nil || cfg.Poller == nil || cfg.Notifier == nil {
		return nil, fmt.Errorf("app requires library, tracker, client, poller, and notifier")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		library:  cfg.Library,
		tracker:  cfg.Tracker,
		client:   cfg.Client,
		poller:   cfg.Poller,
		notifier: cfg.Notifier,
		logger:   logger.With("component", "app"),
		inWork:   make(map[string]struct{}),
	}, nil
}

// UploadPhotos stores the accepted files and kicks off one generation per
// accepted photo in the background. The response never waits on the
// backend.
func (a *App) UploadPhotos(ctx context.Context, files []library.SourceFile, albumID string) ([]domain.Photo, error) {
	accepted, err := a.library.AddFromSource(ctx, files, albumID)
	if err != nil {
		return nil, err
	}
	for _, photo := range accepted {
		go func(id string) {
			if err := a.Generate(id); err != nil {
				a.logger.Error("splat generation failed", "photo_id", id, "err", err)
			}
		}(photo.ID)
	}
	return accepted, nil
}

// Generate runs one full generation for a photo: submit, poll to a
// terminal outcome, and record it. It blocks until the job resolves and is
// usually run on its own goroutine. A photo already in flight, or already
// past pending, is left alone.
func (a *App) Generate(photoID string) error {
	if !a.claim(photoID) {
		return nil
	}
	defer a.release(photoID)

	// Detached from any request context: an upload response returning does
	// not abandon the job.
	ctx := context.Background()

	photo, ok, err := a.library.GetPhoto(ctx, photoID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	switch photo.SplatStatus {
	case domain.SplatNone, domain.SplatPending:
	default:
		return nil
	}

	requestID, err := a.submit(ctx, photo)
	if err != nil {
		a.markFailed(ctx, photoID)
		return err
	}
	a.tracker.AttachEntity(requestID, photoID)
	log := a.logger.With("photo_id", photoID, "request_id", requestID)
	log.Info("splat job submitted")

	marked := false
	result, err := a.poller.Await(requestID, func(ev splat.Event) {
		log.Debug("splat progress", "status", ev.Status, "elapsed", ev.Elapsed)
		if ev.Status == splat.StatusProcessing && !marked {
			marked = true
			if uerr := a.library.UpdateSplatStatus(ctx, photoID, domain.SplatProcessing, ""); uerr != nil {
				log.Warn("status update failed", "err", uerr)
			}
		}
	})
	if err != nil {
		a.markFailed(ctx, photoID)
		var timeout *splat.TimeoutError
		if errors.As(err, &timeout) {
			log.Warn("splat job timed out", "budget", timeout.Budget)
		} else {
			log.Warn("splat job failed", "err", err)
		}
		return err
	}

	if err := a.library.UpdateSplatStatus(ctx, photoID, domain.SplatReady, result.AssetURL); err != nil {
		return err
	}
	a.notifier.SplatReady(photoID, result.AssetURL)
	log.Info("splat ready", "asset_url", result.AssetURL, "size_bytes", result.SizeBytes)
	return nil
}

// submit prefers handing the backend a presigned reference so the image
// bytes travel once; stores without presign support fall back to a direct
// content upload.
func (a *App) submit(ctx context.Context, photo domain.Photo) (string, error) {
	url, err := a.library.ContentURL(ctx, photo.ID)
	switch {
	case err == nil:
		return a.client.SubmitReference(ctx, url)
	case errors.Is(err, storage.ErrPresignUnsupported):
		data, rerr := a.library.ReadContent(ctx, photo.ID)
		if rerr != nil {
			return "", rerr
		}
		return a.client.SubmitContent(ctx, data, photo.Name)
	default:
		return "", err
	}
}

func (a *App) markFailed(ctx context.Context, photoID string) {
	if err := a.library.UpdateSplatStatus(ctx, photoID, domain.SplatFailed, ""); err != nil {
		a.logger.Warn("failure status update failed", "photo_id", photoID, "err", err)
	}
}

// Jobs snapshots the tracker for inspection.
func (a *App) Jobs() []splat.Job {
	return a.tracker.Snapshot()
}

// claim marks a photo as having a generation in flight. Second callers
// lose.
func (a *App) claim(photoID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inWork[photoID]; busy {
		return false
	}
	a.inWork[photoID] = struct{}{}
	return true
}

func (a *App) release(photoID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inWork, photoID)
}
