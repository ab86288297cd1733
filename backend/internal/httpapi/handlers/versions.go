package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bgmanu2426/real-time-document-editor/backend/internal/collab"
	"github.com/bgmanu2426/real-time-document-editor/backend/internal/store"
)

// History exposes the version and branch surface over REST. Live editing
// stays on the websocket; these endpoints serve history browsing and branch
// workflows for non-realtime clients.
type History struct {
	Versions store.VersionStore
	Branches *store.BranchManager
	Live     collab.Service
}

func (h *History) Register(r gin.IRoutes) {
	r.GET("/docs/:docID/content", h.GetContent)
	r.GET("/docs/:docID/ops", h.ListOps)
	r.GET("/docs/:docID/versions", h.ListVersions)
	r.GET("/docs/:docID/versions/:version", h.GetVersion)
	r.GET("/docs/:docID/branches", h.ListBranches)
	r.POST("/docs/:docID/branches", h.CreateBranch)
	r.POST("/docs/:docID/merge", h.MergeBranch)
}

// GetContent returns the live session content, loading it when cold.
func (h *History) GetContent(c *gin.Context) {
	docID := c.Param("docID")
	content, version, err := h.Live.LoadDocumentContent(c.Request.Context(), docID)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "content": content, "version": version})
}

// maxOpsPage caps one catch-up response; clients older than the retained
// window re-fetch content instead.
const maxOpsPage = 256

// ListOps returns recently applied operations newer than ?since=, for client
// catch-up after short gaps.
func (h *History) ListOps(c *gin.Context) {
	docID := c.Param("docID")
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INVALID_SINCE", "message": "since must be a non-negative integer"})
		return
	}
	limit := maxOpsPage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INVALID_LIMIT", "message": "limit must be a positive integer"})
			return
		}
		if n < limit {
			limit = n
		}
	}
	ops, err := h.Live.OpsSince(c.Request.Context(), docID, since, limit)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "since": since, "ops": ops})
}

func (h *History) ListVersions(c *gin.Context) {
	branch := c.DefaultQuery("branch", store.DefaultBranch)
	versions, err := h.Versions.ListVersions(c.Request.Context(), c.Param("docID"), branch)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branch": branch, "versions": versions})
}

func (h *History) GetVersion(c *gin.Context) {
	number, err := strconv.ParseUint(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INVALID_VERSION", "message": "version must be a positive integer"})
		return
	}
	v, err := h.Versions.GetVersion(c.Request.Context(), c.Param("docID"), number)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *History) ListBranches(c *gin.Context) {
	branches, err := h.Versions.ListBranches(c.Request.Context(), c.Param("docID"))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": branches})
}

type createBranchRequest struct {
	Name       string `json:"name" binding:"required"`
	FromBranch string `json:"fromBranch"`
}

func (h *History) CreateBranch(c *gin.Context) {
	var req createBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INVALID_BODY", "message": err.Error()})
		return
	}
	br, err := h.Branches.CreateBranch(c.Request.Context(), c.Param("docID"), req.Name, c.GetUint64("userId"), req.FromBranch)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, br)
}

type mergeRequest struct {
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`
}

func (h *History) MergeBranch(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "INVALID_BODY", "message": err.Error()})
		return
	}
	res, err := h.Branches.MergeBranch(c.Request.Context(), c.Param("docID"), req.Source, req.Target, c.GetUint64("userId"))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func abortStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrVersionNotFound),
		errors.Is(err, store.ErrBranchNotFound),
		errors.Is(err, store.ErrEmptyBranch):
		c.JSON(http.StatusNotFound, gin.H{"code": rootCode(err), "message": err.Error()})
	case errors.Is(err, store.ErrDuplicateBranch):
		c.JSON(http.StatusConflict, gin.H{"code": store.ErrDuplicateBranch.Error(), "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
	}
}

func rootCode(err error) string {
	for _, sentinel := range []error{store.ErrVersionNotFound, store.ErrBranchNotFound, store.ErrEmptyBranch, store.ErrDuplicateBranch} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "INTERNAL"
}
