package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"entrypass/internal/export"
	"entrypass/internal/passes"
)

// Handler serves the /passes routes.
type Handler struct {
	svc *passes.Service
}

// New returns a handler backed by svc.
func New(svc *passes.Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the pass routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/passes")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/download", h.Download)
	g.PATCH("/mark-attendance", h.MarkAttendance)
	g.GET("/roll-no", h.RedirectToList)
	g.GET("/roll-no/:roll_no", h.GetByRollNo)
	g.GET("/:pk", h.Get)
	g.PUT("/:pk", h.Update)
	g.PATCH("/:pk", h.Patch)
	g.DELETE("/:pk", h.Delete)
}

// ---------- Reads ----------

// List returns every pass as {"passes": [...]}.
func (h *Handler) List(c *gin.Context) {
	all, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"passes": all})
}

// Get returns one pass with branch and year, or an empty 404.
func (h *Handler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("pk"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pass": d})
}

// GetByRollNo looks a pass up by roll number.
func (h *Handler) GetByRollNo(c *gin.Context) {
	d, err := h.svc.GetByRollNo(c.Request.Context(), c.Param("roll_no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pass": d})
}

// RedirectToList sends a bare /passes/roll-no to the list.
func (h *Handler) RedirectToList(c *gin.Context) {
	c.Redirect(http.StatusFound, "/passes")
}

// ---------- Writes ----------

// Create inserts a pass and answers 201.
func (h *Handler) Create(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	p, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pass": p})
}

// Update replaces name and roll_no. Both are required.
func (h *Handler) Update(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	p, err := h.svc.Update(c.Request.Context(), c.Param("pk"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updatedFields": p})
}

// Patch changes only the fields present in the body.
func (h *Handler) Patch(c *gin.Context) {
	in, ok := bindInput(c)
	if !ok {
		return
	}
	p, err := h.svc.Patch(c.Request.Context(), c.Param("pk"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updatedFields": p})
}

// Delete removes a pass and answers 204.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("pk")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAttendance sets attended for the pass_id in the body. It reports errors
// in the body, unlike the other routes.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req struct {
		PassID string `json:"pass_id" form:"pass_id"`
	}
	if err := c.ShouldBind(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.PassID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pass_id is required"})
		return
	}
	p, err := h.svc.MarkAttendance(c.Request.Context(), req.PassID)
	if errors.Is(err, passes.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "EntryPass not found"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": p})
}

// ---------- Export ----------

// Download exports every pass as CSV, or as xlsx with ?format=xlsx.
func (h *Handler) Download(c *gin.Context) {
	all, err := h.svc.All(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	filename, contentType := "passes.csv", "text/csv"
	if c.Query("format") == "xlsx" {
		filename = "passes.xlsx"
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = export.WriteXLSX(&buf, all)
	} else {
		err = export.WriteCSV(&buf, all)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ---------- Helpers ----------

// bindInput decodes a pass body. A missing body decodes to an empty input so
// validation can name the required fields.
func bindInput(c *gin.Context) (passes.Input, bool) {
	var in passes.Input
	err := c.ShouldBind(&in)
	if err == nil || errors.Is(err, io.EOF) {
		return in, true
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		c.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{typeErr.Field: []string{"must be a " + typeErr.Type.String()}}})
		return in, false
	}
	c.JSON(http.StatusBadRequest, gin.H{"errors": gin.H{"non_field_errors": []string{err.Error()}}})
	return in, false
}

// fail maps service errors to responses. Not-found carries no body.
func (h *Handler) fail(c *gin.Context, err error) {
	var verr *passes.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Fields})
	case errors.Is(err, passes.ErrNotFound):
		c.Status(http.StatusNotFound)
	default:
		log.Printf("request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
