package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cardworks/imagestore/internal/backend/cache"
	"github.com/cardworks/imagestore/internal/backend/database"
	"github.com/cardworks/imagestore/internal/backend/transcode"
)

const imagesPath = "/images/"

// ErrVariantNotFound is returned when a stored image lacks the requested derivative.
var ErrVariantNotFound = errors.New("image variant not found")

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	transcoder      *transcode.Transcoder
	cache           cache.Cache
}

// VariantQuery selects what GetVariant serves. Empty fields mean "not requested".
type VariantQuery struct {
	Size   string
	Format string
}

// Variant is a payload ready to be written to a response.
type Variant struct {
	ContentType string
	Data        []byte
}

// ImageInfo describes a stored image without its payloads.
type ImageInfo struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Size        int64             `json:"size"`
	ContentType string            `json:"contentType"`
	CreatedAt   time.Time         `json:"createdAt"`
	URLs        map[string]string `json:"urls"`
}

func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(ctx, config)
	if err != nil {
		return nil, err
	}

	transcoder, err := transcode.New(transcode.Options{
		Quality:   config.Transcoding.Quality,
		AVIFSpeed: config.Transcoding.AVIFSpeed,
		Workers:   config.Transcoding.Workers,
		MaxPixels: config.Transcoding.MaxPixels,
	})
	if err != nil {
		_ = databaseService.Close(ctx)
		return nil, fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	variantCache, err := cache.NewCache(ctx, cache.Options{
		Type:     config.Cache.Type,
		Address:  config.Cache.Address,
		Password: config.Cache.Password,
		DB:       config.Cache.DB,
		TTL:      config.Cache.TTL,
	})
	if err != nil {
		_ = databaseService.Close(ctx)
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	return newCoreService(config, databaseService, transcoder, variantCache), nil
}

func newCoreService(config *ServiceConfig, databaseService database.DatabaseService, transcoder *transcode.Transcoder, variantCache cache.Cache) *CoreService {
	return &CoreService{
		config:          config,
		databaseService: databaseService,
		transcoder:      transcoder,
		cache:           variantCache,
	}
}

func getDatabaseService(ctx context.Context, config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(ctx, database.Options{
		Type:             config.Database.Type,
		ConnectionString: config.Database.ConnectionString,
		Name:             config.Database.Name,
		Collection:       config.Database.Collection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

// AddImage transcodes the upload and stores it with all derivatives.
// Nothing is written when transcoding fails.
func (service *CoreService) AddImage(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	result, err := service.transcoder.Transcode(data)
	if err != nil {
		return "", err
	}

	id, err := service.databaseService.CreateImage(ctx, &database.StoredImage{
		Data:        data,
		ContentType: contentType,
		Filename:    filename,
		Width:       result.Width,
		Height:      result.Height,
		Size:        result.Size,
		Thumbnails:  result.Thumbnails,
		Formats:     result.Formats,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	slog.Info("image stored",
		"image_id", id,
		"filename", filename,
		"content_type", contentType,
		"width", result.Width,
		"height", result.Height,
		"size_bytes", result.Size)
	return id, nil
}

// GetVariant resolves the payload for a query, consulting the cache first.
// Stored documents are immutable, so cached entries never go stale.
func (service *CoreService) GetVariant(ctx context.Context, id string, query VariantQuery) (*Variant, error) {
	key := variantCacheKey(id, query)
	entry, err := service.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("variant cache read failed", "key", key, "error", err)
	} else if entry != nil {
		return &Variant{ContentType: entry.ContentType, Data: entry.Data}, nil
	}

	image, err := service.databaseService.GetImageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	variant, err := selectVariant(image, query)
	if err != nil {
		return nil, err
	}

	if err := service.cache.Set(ctx, key, &cache.Entry{ContentType: variant.ContentType, Data: variant.Data}); err != nil {
		slog.Warn("variant cache write failed", "key", key, "error", err)
	}
	return variant, nil
}

func (service *CoreService) GetInfo(ctx context.Context, id string) (*ImageInfo, error) {
	image, err := service.databaseService.GetImageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ImageInfo{
		ID:          image.ID,
		Filename:    image.Filename,
		Width:       image.Width,
		Height:      image.Height,
		Size:        image.Size,
		ContentType: image.ContentType,
		CreatedAt:   image.CreatedAt,
		URLs:        ImageURLs(image.ID),
	}, nil
}

func (service *CoreService) Ping(ctx context.Context) bool {
	return service.databaseService.DoesDatabaseExist(ctx)
}

func (service *CoreService) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(service.cache.Close(), service.databaseService.Close(ctx))
}

// selectVariant applies the retrieval rules. A size always serves the stored JPEG
// thumbnail; when a format is also given only the advertised content type follows it.
func selectVariant(image *database.StoredImage, query VariantQuery) (*Variant, error) {
	switch {
	case query.Size != "" && query.Format != "":
		data, ok := image.Thumbnails[query.Size]
		if !ok {
			return nil, fmt.Errorf("%w: size %s", ErrVariantNotFound, query.Size)
		}
		return &Variant{ContentType: transcode.MIMEType(query.Format), Data: data}, nil
	case query.Size != "":
		data, ok := image.Thumbnails[query.Size]
		if !ok {
			return nil, fmt.Errorf("%w: size %s", ErrVariantNotFound, query.Size)
		}
		return &Variant{ContentType: image.ContentType, Data: data}, nil
	case query.Format != "":
		data, ok := image.Formats[query.Format]
		if !ok {
			return nil, fmt.Errorf("%w: format %s", ErrVariantNotFound, query.Format)
		}
		return &Variant{ContentType: transcode.MIMEType(query.Format), Data: data}, nil
	default:
		return &Variant{ContentType: image.ContentType, Data: image.Data}, nil
	}
}

func variantCacheKey(id string, query VariantQuery) string {
	return id + "/" + query.Size + "/" + query.Format
}

// ImagePath is the stable reference returned on upload.
func ImagePath(id string) string {
	return imagesPath + url.PathEscape(id)
}

// ImageURLs lists the original plus one URL per size and format label.
func ImageURLs(id string) map[string]string {
	base := ImagePath(id)
	urls := make(map[string]string, 1+len(transcode.Sizes)+len(transcode.Formats))
	urls["original"] = base
	for _, size := range transcode.Sizes {
		urls[size.Label] = base + "?size=" + size.Label
	}
	for _, format := range transcode.Formats {
		urls[format] = base + "?format=" + format
	}
	return urls
}
