package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studio-backend/internal/backend"
	"studio-backend/internal/model"
	"studio-backend/internal/service"
	"studio-backend/internal/session"
	"studio-backend/pkg/logger"
)

// LibraryHandler exposes the media platform's collections. Changes made
// with a conv_id query parameter are announced on that conversation.
type LibraryHandler struct {
	library *service.LibraryService
	events  session.EventBroadcaster
}

func NewLibraryHandler(library *service.LibraryService, events session.EventBroadcaster) *LibraryHandler {
	return &LibraryHandler{library: library, events: events}
}

func (h *LibraryHandler) notify(c *gin.Context, ev *model.DataEvent) {
	convID := c.Query("conv_id")
	if convID == "" || h.events == nil {
		return
	}
	if err := h.events.BroadcastEvent(convID, ev); err != nil {
		logger.Warnf("Announce %s update on conversation %s: %v", ev.Update, convID, err)
	}
}

func (h *LibraryHandler) RegisterRoutes(api *gin.RouterGroup) {
	col := api.Group("/library/collections")
	{
		col.GET("", h.ListCollections)
		col.POST("", h.CreateCollection)
		col.GET("/:collection_id", h.GetCollection)
		col.DELETE("/:collection_id", h.DeleteCollection)
		col.POST("/:collection_id/upload", h.Upload)
		col.GET("/:collection_id/:media_type", h.ListMedia)
		col.GET("/:collection_id/:media_type/:media_id", h.GetMedia)
		col.DELETE("/:collection_id/:media_type/:media_id", h.DeleteMedia)
	}
}

func (h *LibraryHandler) ListCollections(c *gin.Context) {
	cols, err := h.library.Collections(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if cols == nil {
		cols = []backend.Collection{}
	}
	c.JSON(http.StatusOK, cols)
}

func (h *LibraryHandler) CreateCollection(c *gin.Context) {
	var req model.CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}
	col, err := h.library.CreateCollection(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	h.notify(c, session.CollectionsUpdated())
	c.JSON(http.StatusCreated, col)
}

func (h *LibraryHandler) GetCollection(c *gin.Context) {
	col, err := h.library.Collection(c.Request.Context(), c.Param("collection_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, col)
}

func (h *LibraryHandler) DeleteCollection(c *gin.Context) {
	if err := h.library.DeleteCollection(c.Request.Context(), c.Param("collection_id")); err != nil {
		writeError(c, err)
		return
	}
	h.notify(c, session.CollectionsUpdated())
	c.Status(http.StatusNoContent)
}

func (h *LibraryHandler) Upload(c *gin.Context) {
	var req model.UploadMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}
	if req.MediaType == "" {
		req.MediaType = string(backend.MediaVideo)
	}
	t, err := service.ParseMediaType(req.MediaType)
	if err != nil {
		writeError(c, err)
		return
	}
	media, err := h.library.UploadURL(c.Request.Context(), c.Param("collection_id"), req.URL, t, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	h.notify(c, session.MediaUpdated(c.Param("collection_id"), t))
	c.JSON(http.StatusCreated, media)
}

func (h *LibraryHandler) ListMedia(c *gin.Context) {
	t, err := service.ParseMediaType(c.Param("media_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	items, err := h.library.ListMedia(c.Request.Context(), c.Param("collection_id"), t)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []backend.Media{}
	}
	c.JSON(http.StatusOK, items)
}

func (h *LibraryHandler) GetMedia(c *gin.Context) {
	t, err := service.ParseMediaType(c.Param("media_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	media, err := h.library.GetMedia(c.Request.Context(), c.Param("collection_id"), t, c.Param("media_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, media)
}

func (h *LibraryHandler) DeleteMedia(c *gin.Context) {
	t, err := service.ParseMediaType(c.Param("media_type"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.library.DeleteMedia(c.Request.Context(), c.Param("collection_id"), t, c.Param("media_id")); err != nil {
		writeError(c, err)
		return
	}
	h.notify(c, session.MediaUpdated(c.Param("collection_id"), t))
	c.Status(http.StatusNoContent)
}
