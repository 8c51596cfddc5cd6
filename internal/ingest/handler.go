package ingest

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"recipebox/internal/batch"
	"recipebox/internal/journal"
	"recipebox/internal/recipe"
	"recipebox/internal/scraper"
)

const defaultMaxUpload = 20 << 20

var (
	errInvalidUpload  = errors.New("Invalid upload.")
	errUploadTooLarge = errors.New("Upload too large.")
)

type Handler struct {
	Svc            *Service
	MaxUploadBytes int64
}

func NewHandler(svc *Service, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &Handler{Svc: svc, MaxUploadBytes: maxUpload}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/", h.health)
	rg.POST("/check-title", h.checkTitle)
	rg.POST("/stage", h.stage)
	rg.POST("/save", h.save)
	rg.POST("/bulk", h.bulkStage)
	rg.POST("/bulk-commit", h.bulkCommit)
	rg.POST("/test-image", h.testImage)
	rg.POST("/delete", h.deleteRecipe)
	rg.POST("/edit", h.edit)
	rg.GET("/recipes/:slug", h.getRecipe)
	rg.GET("/tags", h.tags)
	rg.GET("/history", h.history)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "Ingester is running"})
}

func (h *Handler) checkTitle(c *gin.Context) {
	exists := h.Svc.CheckTitle(c.PostForm("title"), c.PostForm("original_slug"))
	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func (h *Handler) stage(c *gin.Context) {
	d, err := h.Svc.Stage(c.Request.Context(), c.PostForm("url"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"recipe":     d,
		"tags":       strings.Join(d.Tags, ", "),
		"known_tags": h.Svc.Tags.Names(),
	})
}

func (h *Handler) save(c *gin.Context) {
	upload, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	out, err := h.Svc.Save(c.Request.Context(), SaveInput{
		Title:         c.PostForm("title"),
		Tags:          c.PostForm("tags"),
		Ingredients:   c.PostForm("ingredients"),
		Instructions:  c.PostForm("instructions"),
		ImageURL:      c.PostForm("image_url"),
		ExistingImage: c.PostForm("existing_image"),
		SourceURL:     c.PostForm("source_url"),
		OriginalSlug:  c.PostForm("original_slug"),
		Upload:        upload,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"slug":         out.Slug,
		"redirect_url": out.RedirectURL,
		"image":        out.Image,
		"ready":        out.Ready,
	})
}

// readUpload returns the bytes of the optional "file" part.
func (h *Handler) readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, errInvalidUpload
	}
	if fh.Filename == "" || fh.Size == 0 {
		return nil, nil
	}
	if fh.Size > h.MaxUploadBytes {
		return nil, errUploadTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errInvalidUpload
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.MaxUploadBytes+1))
	if err != nil {
		return nil, errInvalidUpload
	}
	if int64(len(data)) > h.MaxUploadBytes {
		return nil, errUploadTooLarge
	}
	return data, nil
}

func (h *Handler) bulkStage(c *gin.Context) {
	b, err := h.Svc.BulkStage(c.Request.Context(), c.PostForm("urls"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"batch_id":   b.ID,
		"results":    b.Items,
		"known_tags": h.Svc.Tags.Names(),
	})
}

type bulkCommitRequest struct {
	BatchID string `json:"batch_id" binding:"required"`
	Items   []struct {
		ID   int    `json:"id"`
		Tags string `json:"tags"`
	} `json:"items"`
}

func (h *Handler) bulkCommit(c *gin.Context) {
	var req bulkCommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid payload."})
		return
	}
	overrides := make(map[int]string, len(req.Items))
	for _, it := range req.Items {
		overrides[it.ID] = it.Tags
	}

	out, err := h.Svc.BulkCommit(c.Request.Context(), req.BatchID, overrides)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"saved":   out.Saved,
		"skipped": out.Skipped,
		"failed":  out.Failed,
		"ready":   out.Ready,
	})
}

func (h *Handler) testImage(c *gin.Context) {
	ok := h.Svc.TestImage(c.Request.Context(), c.PostForm("url"), c.PostForm("source_url"))
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func (h *Handler) deleteRecipe(c *gin.Context) {
	ready, err := h.Svc.Delete(c.Request.Context(), c.PostForm("slug"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ready": ready})
}

func (h *Handler) edit(c *gin.Context) {
	h.load(c, c.PostForm("slug"))
}

func (h *Handler) getRecipe(c *gin.Context) {
	h.load(c, c.Param("slug"))
}

func (h *Handler) load(c *gin.Context, slug string) {
	form, err := h.Svc.Load(slug)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"recipe":     form,
		"known_tags": h.Svc.Tags.Names(),
	})
}

func (h *Handler) tags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tags": h.Svc.KnownTags()})
}

func (h *Handler) history(c *gin.Context) {
	items, err := h.Svc.History(c.Request.Context(), journal.Query{
		Slug:   c.Query("slug"),
		Action: c.Query("action"),
		Limit:  parseInt(c.Query("limit"), journal.DefaultLimit),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// writeError maps service errors onto status codes and user-facing messages.
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, err.Error()

	var extractErr *scraper.ExtractionError
	switch {
	case errors.Is(err, ErrUnsafeURL):
		status, msg = http.StatusBadRequest, "Invalid URL"
	case errors.Is(err, ErrMissingContent):
		status, msg = http.StatusBadRequest, "Missing content."
	case errors.Is(err, recipe.ErrEmptyTitle):
		status, msg = http.StatusBadRequest, "Title is required."
	case errors.Is(err, recipe.ErrInvalidSlug):
		status, msg = http.StatusBadRequest, "Invalid slug"
	case errors.As(err, &extractErr):
		status = http.StatusBadRequest
	case errors.Is(err, recipe.ErrNotFound):
		status, msg = http.StatusNotFound, "Recipe not found"
	case errors.Is(err, batch.ErrBatchNotFound):
		status, msg = http.StatusNotFound, "Batch expired."
	case errors.Is(err, recipe.ErrDuplicateTitle):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"success": false, "message": msg})
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
