package backend

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/zeebo/blake3"

	"github.com/cardworks/imagestore/internal/backend/database"
	"github.com/cardworks/imagestore/internal/backend/transcode"
	"github.com/cardworks/imagestore/internal/core"
)

const (
	uploadFormField       = "file"
	productionCacheHeader = "public, max-age=31536000, immutable"

	headerETag        = "ETag"
	headerIfNoneMatch = "If-None-Match"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

// errorResponse is the envelope of every failed API call.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
}

type infoResponse struct {
	Success bool `json:"success"`
	*core.ImageInfo
}

type imageQuery struct {
	ID     string `param:"id" validate:"required"`
	Size   string `query:"size" validate:"omitempty,oneof=thumbnail small medium large"`
	Format string `query:"format" validate:"omitempty,oneof=jpeg webp avif"`
	Info   bool   `query:"info"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", s.probeHandler)

	images := e.Group("/images")
	images.POST("", s.uploadImageHandler, middleware.BodyLimit(strconv.FormatInt(s.config.Upload.MaxBytes, 10)))
	images.GET("/:id", s.getImageHandler)
}

func (s *APIService) probeHandler(ctx echo.Context) error {
	if !s.coreService.Ping(ctx.Request().Context()) {
		return fail(ctx, http.StatusServiceUnavailable, "Database unavailable")
	}
	return ctx.String(http.StatusOK, "API Service is running")
}

func (s *APIService) uploadImageHandler(ctx echo.Context) error {
	file, err := ctx.FormFile(uploadFormField)
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		// Chunked bodies carry no Content-Length, so the limit trips while the form is parsed.
		slog.Warn("uploadImageHandler: upload exceeds size limit",
			"status", http.StatusRequestEntityTooLarge, "max_bytes", s.config.Upload.MaxBytes)
		return fail(ctx, http.StatusRequestEntityTooLarge, httpErrorMessage(he))
	}
	if err != nil {
		slog.Warn("uploadImageHandler: no file in request",
			"status", http.StatusBadRequest, "error", err)
		return fail(ctx, http.StatusBadRequest, "No file uploaded")
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("uploadImageHandler: failed to open uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return fail(ctx, http.StatusInternalServerError, "Failed to upload image")
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("uploadImageHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		slog.Error("uploadImageHandler: failed to read uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return fail(ctx, http.StatusInternalServerError, "Failed to upload image")
	}

	contentType := uploadContentType(file.Header.Get(echo.HeaderContentType), data)
	id, err := s.coreService.AddImage(ctx.Request().Context(), file.Filename, contentType, data)
	if errors.Is(err, transcode.ErrDecode) {
		slog.Warn("uploadImageHandler: uploaded file is not a decodable image",
			"status", http.StatusBadRequest, "error", err, "filename", file.Filename)
		return fail(ctx, http.StatusBadRequest, "Uploaded file is not a valid image")
	}
	if errors.Is(err, database.ErrImageTooLarge) {
		slog.Warn("uploadImageHandler: image and derivatives exceed storage limit",
			"status", http.StatusRequestEntityTooLarge, "error", err, "filename", file.Filename)
		return fail(ctx, http.StatusRequestEntityTooLarge, "Image is too large to store")
	}
	if err != nil {
		slog.Error("uploadImageHandler: failed to process uploaded image",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return fail(ctx, http.StatusInternalServerError, "Failed to upload image")
	}

	return ctx.JSON(http.StatusCreated, uploadResponse{Success: true, ID: id, URL: core.ImagePath(id)})
}

func (s *APIService) getImageHandler(ctx echo.Context) error {
	var query imageQuery
	if err := ctx.Bind(&query); err != nil {
		slog.Warn("getImageHandler: failed to bind query", "status", http.StatusBadRequest, "error", err)
		return fail(ctx, http.StatusBadRequest, "Invalid query parameters")
	}
	if err := ctx.Validate(&query); err != nil {
		slog.Warn("getImageHandler: invalid query", "status", http.StatusBadRequest, "error", err)
		return fail(ctx, http.StatusBadRequest, httpErrorMessage(err))
	}

	reqCtx := ctx.Request().Context()
	if query.Info {
		info, err := s.coreService.GetInfo(reqCtx, query.ID)
		if err != nil {
			return s.lookupFailed(ctx, query.ID, err)
		}
		return ctx.JSON(http.StatusOK, infoResponse{Success: true, ImageInfo: info})
	}

	variant, err := s.coreService.GetVariant(reqCtx, query.ID, core.VariantQuery{Size: query.Size, Format: query.Format})
	if err != nil {
		return s.lookupFailed(ctx, query.ID, err)
	}

	s.setCacheHeaders(ctx)
	etag := payloadETag(variant.Data)
	ctx.Response().Header().Set(headerETag, etag)
	if etagMatches(ctx.Request().Header.Get(headerIfNoneMatch), etag) {
		return ctx.NoContent(http.StatusNotModified)
	}
	return ctx.Blob(http.StatusOK, variant.ContentType, variant.Data)
}

func (s *APIService) lookupFailed(ctx echo.Context, id string, err error) error {
	if errors.Is(err, database.ErrImageNotFound) || errors.Is(err, core.ErrVariantNotFound) {
		slog.Warn("getImageHandler: image not available",
			"status", http.StatusNotFound, "image_id", id, "error", err)
		return fail(ctx, http.StatusNotFound, "Image not found")
	}
	slog.Error("getImageHandler: failed to load image",
		"status", http.StatusInternalServerError, "image_id", id, "error", err)
	return fail(ctx, http.StatusInternalServerError, "Failed to load image")
}

// setCacheHeaders marks payloads immutable in production; elsewhere nothing is cached.
func (s *APIService) setCacheHeaders(ctx echo.Context) {
	header := ctx.Response().Header()
	if s.config.IsProduction() {
		header.Set(echo.HeaderCacheControl, productionCacheHeader)
		return
	}
	header.Set(echo.HeaderCacheControl, "no-store, no-cache, must-revalidate, max-age=0")
	header.Set("Pragma", "no-cache")
	header.Set("Expires", "0")
}

// ErrorHandler renders errors that escape handlers (unknown routes, body limit) in the API envelope.
func ErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		message = httpErrorMessage(he)
	}
	if code >= http.StatusInternalServerError {
		slog.Error("unhandled request error", "status", code, "error", err, "uri", ctx.Request().RequestURI)
	}
	if ctx.Request().Method == http.MethodHead {
		err = ctx.NoContent(code)
	} else {
		err = fail(ctx, code, message)
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

func fail(ctx echo.Context, status int, message string) error {
	return ctx.JSON(status, errorResponse{Success: false, Message: message})
}

func httpErrorMessage(err error) string {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return msg
		}
		return fmt.Sprint(he.Message)
	}
	return err.Error()
}

// uploadContentType trusts the part header unless it is missing or generic.
func uploadContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != echo.MIMEOctetStream {
		return declared
	}
	return mimetype.Detect(data).String()
}

func payloadETag(data []byte) string {
	sum := blake3.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
