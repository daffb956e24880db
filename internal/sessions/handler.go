package sessions

import (
	"encoding/csv"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planning-poker/backend/internal/models"
	"github.com/planning-poker/backend/pkg/response"
)

// Notifier fans an event out to every member of a session. Satisfied by
// *realtime.Hub; kept as an interface so handlers can be tested without a
// websocket stack.
type Notifier interface {
	BroadcastToSession(sessionID uuid.UUID, event string, payload interface{})
}

// AddStoryRequest is the body for POST /session/:id/story.
type AddStoryRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Handler handles the session/story REST endpoints.
type Handler struct {
	repo     *Repository
	notifier Notifier
	logger   *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo *Repository, notifier Notifier, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, notifier: notifier, logger: logger}
}

// Create handles POST /session.
func (h *Handler) Create(c *gin.Context) {
	s := h.repo.Create()
	h.logger.Info("session created", zap.String("session_id", s.ID.String()))
	response.Created(c, gin.H{"sessionId": s.ID})
}

// GetByID handles GET /session/:id.
func (h *Handler) GetByID(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.OK(c, gin.H{
		"id":              s.ID,
		"stories":         s.Stories(),
		"selectedStoryId": s.SelectedStoryID(),
		"members":         s.MemberCount(),
		"history":         s.History(),
		"createdAt":       s.CreatedAt,
	})
}

// ListStories handles GET /session/:id/stories.
func (h *Handler) ListStories(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	response.OK(c, s.Stories())
}

// AddStory handles POST /session/:id/story.
func (h *Handler) AddStory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req AddStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "title is required")
		return
	}
	story, err := s.AddStory(req.Title, req.Description)
	switch {
	case errors.Is(err, models.ErrDuplicateTitle):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		response.BadRequest(c, err.Error())
		return
	}
	h.notifier.BroadcastToSession(s.ID, models.EventStoryList, s.Stories())
	response.Created(c, story)
}

// DeleteStory handles DELETE /session/:id/story/:storyId.
func (h *Handler) DeleteStory(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	storyID, err := uuid.Parse(c.Param("storyId"))
	if err != nil {
		response.BadRequest(c, "invalid story id")
		return
	}
	cleared, err := s.DeleteStory(storyID)
	if err != nil {
		response.NotFound(c, err.Error())
		return
	}
	h.notifier.BroadcastToSession(s.ID, models.EventStoryList, s.Stories())
	if cleared {
		h.notifier.BroadcastToSession(s.ID, models.EventSelectedStory, gin.H{"storyId": nil})
	}
	response.NoContent(c)
}

// ImportStories handles POST /session/:id/stories/import. The body is
// semicolon-delimited CSV, one "title;description" record per line. Records
// with a duplicate or empty title are skipped and counted, not errors.
func (h *Handler) ImportStories(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	reader := csv.NewReader(c.Request.Body)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		response.BadRequest(c, "invalid CSV: "+err.Error())
		return
	}
	var result ImportResult
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		title := rec[0]
		description := ""
		if len(rec) > 1 {
			description = rec[1]
		}
		if _, err := s.AddStory(title, description); err != nil {
			result.Skipped++
			continue
		}
		result.Imported++
	}
	if result.Imported > 0 {
		h.notifier.BroadcastToSession(s.ID, models.EventStoryList, s.Stories())
	}
	h.logger.Info("stories imported",
		zap.String("session_id", s.ID.String()),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	response.Created(c, result)
}

// ExportStories handles GET /session/:id/stories/export, returning the story
// list as semicolon-delimited CSV.
func (h *Handler) ExportStories(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="stories.csv"`)
	c.Status(200)
	writer := csv.NewWriter(c.Writer)
	writer.Comma = ';'
	for _, st := range s.Stories() {
		_ = writer.Write([]string{st.Title, st.Description})
	}
	writer.Flush()
}

// session resolves the :id param to a registered session, writing the error
// response itself when it cannot.
func (h *Handler) session(c *gin.Context) (*models.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	s, err := h.repo.Get(id)
	if err != nil {
		response.NotFound(c, err.Error())
		return nil, false
	}
	return s, true
}
