package httpapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/server/services"
)

type MapHandler struct {
	maps          MapService
	maxUploadSize int64
}

func NewMapHandler(maps MapService, maxUploadSize int64) *MapHandler {
	return &MapHandler{maps: maps, maxUploadSize: maxUploadSize}
}

type uploadForm struct {
	MapName     string `form:"mapName" validate:"required"`
	Description string `form:"description"`
	Thumbnail   string `form:"thumbnail" validate:"omitempty,url"`
	GameType    string `form:"gameType"`
}

type downloadResponse struct {
	URL       string `json:"url"`
	Downloads int64  `json:"downloads"`
}

// readPart reads an uploaded file, refusing anything over limit bytes.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if limit > 0 && fh.Size > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", common.ErrValidation, fh.Filename, limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := io.Reader(f)
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", common.ErrValidation, fh.Filename, limit)
	}
	return data, nil
}

// Upload handles POST /api/map/new (multipart: file, optional thumbnailFile).
func (h *MapHandler) Upload(c echo.Context) error {
	var form uploadForm
	if err := bindAndValidate(c, &form); err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	data, err := readPart(fh, h.maxUploadSize)
	if err != nil {
		return err
	}

	in := services.UploadInput{
		MapName:     form.MapName,
		Description: form.Description,
		GameType:    form.GameType,
		Thumbnail:   form.Thumbnail,
		Data:        data,
	}

	if th, err := c.FormFile("thumbnailFile"); err == nil {
		in.ThumbnailData, err = readPart(th, h.maxUploadSize)
		if err != nil {
			return err
		}
		in.ThumbnailName = th.Filename
	}

	m, err := h.maps.Upload(c.Request().Context(), sessionToken(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

// Get handles GET /api/map/:id.
func (h *MapHandler) Get(c echo.Context) error {
	m, err := h.maps.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// Download handles GET /api/map/:id/download.
func (h *MapHandler) Download(c echo.Context) error {
	url, m, err := h.maps.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, downloadResponse{URL: url, Downloads: m.Downloads})
}

// ByAuthor handles GET /api/map/author/:authorId.
func (h *MapHandler) ByAuthor(c echo.Context) error {
	list, err := h.maps.ListByAuthor(c.Request().Context(), c.Param("authorId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

// List handles GET /api/maps.
func (h *MapHandler) List(c echo.Context) error {
	list, err := h.maps.ListAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

// Delete handles DELETE /api/map/:id and POST /api/map/:id/delete.
func (h *MapHandler) Delete(c echo.Context) error {
	if err := h.maps.Delete(c.Request().Context(), sessionToken(c), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "success"})
}
