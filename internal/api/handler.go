package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mr1hm/civic-issues/internal/cache"
	"github.com/mr1hm/civic-issues/internal/events"
	"github.com/mr1hm/civic-issues/internal/format"
	"github.com/mr1hm/civic-issues/internal/metrics"
	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/query"
	"github.com/mr1hm/civic-issues/internal/repository"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	maxImages            = 10
	streamKeepAlive      = 25 * time.Second
)

type EventPublisher interface {
	Publish(ev models.IssueEvent)
}

type Handler struct {
	repo        repository.IssueRepository
	cache       cache.QueryCache
	publisher   EventPublisher
	broadcaster *events.Broadcaster
	now         func() time.Time
}

func NewHandler(repo repository.IssueRepository, qc cache.QueryCache, publisher EventPublisher, broadcaster *events.Broadcaster) *Handler {
	if qc == nil {
		qc = cache.Noop{}
	}
	return &Handler{
		repo:        repo,
		cache:       qc,
		publisher:   publisher,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	issues := r.Group("/api/issues")
	issues.GET("", h.listIssues)
	issues.POST("", h.createIssue)
	issues.GET("/stream", h.streamIssues)
	issues.GET("/:id", h.getIssue)
	issues.PUT("/:id", h.updateIssue)
	issues.DELETE("/:id", h.deleteIssue)
	issues.POST("/:id/vote", h.vote)
	issues.DELETE("/:id/vote", h.unvote)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "route not found"})
	})
}

func (h *Handler) listIssues(c *gin.Context) {
	q, err := query.Parse(c.Request.URL.Query())
	if err != nil {
		validationError(c, err)
		return
	}

	ctx := c.Request.Context()
	key := q.Key()
	page, version, ok := h.cache.Get(ctx, key)
	if ok {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"data":       page.Issues,
			"pagination": page.Pagination,
			"filters":    q.Filters(),
		})
		return
	}

	stored, total, err := h.repo.Search(ctx, q)
	if err != nil {
		slog.Error("failed to search issues", "error", err)
		internalError(c, "failed to fetch issues")
		return
	}

	page = &cache.Page{
		Issues:     format.ToClientList(stored),
		Pagination: query.Paginate(q.Page, q.Limit, total),
	}
	h.cache.Set(ctx, version, key, *page)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"data":       page.Issues,
		"pagination": page.Pagination,
		"filters":    q.Filters(),
	})
}

func (h *Handler) getIssue(c *gin.Context) {
	issue, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": format.ToClient(issue)})
}

type locationRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

type createIssueRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Severity    string           `json:"severity"`
	Location    *locationRequest `json:"location"`
	Images      []string         `json:"images"`
	Anonymous   bool             `json:"anonymous"`
}

type updateIssueRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Status      *string          `json:"status"`
	Severity    *string          `json:"severity"`
	Location    *locationRequest `json:"location"`
	Images      []string         `json:"images"`
}

func (h *Handler) createIssue(c *gin.Context) {
	var req createIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	verr := &query.ValidationError{}
	title := checkText(verr, "title", req.Title, maxTitleLength)
	description := checkText(verr, "description", req.Description, maxDescriptionLength)
	category, err := models.ParseCategory(req.Category)
	if err != nil {
		verr.Fields = append(verr.Fields, query.FieldError{Field: "category", Message: err.Error()})
	}
	severity, err := models.ParseSeverity(req.Severity)
	if err != nil {
		verr.Fields = append(verr.Fields, query.FieldError{Field: "severity", Message: err.Error()})
	}
	loc := checkLocation(verr, req.Location)
	checkImages(verr, req.Images)
	if len(verr.Fields) > 0 {
		validationError(c, verr)
		return
	}

	now := h.now().UTC()
	issue := &models.StoredIssue{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Category:    category,
		Status:      models.StatusReported,
		Severity:    severity,
		Location:    format.ToPoint(loc),
		Images:      req.Images,
		Anonymous:   req.Anonymous,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if id, ok := identityFrom(c); ok {
		issue.Reporter = &models.ReporterRef{ID: id.ID, Name: id.Name, Email: id.Email}
	}

	ctx := c.Request.Context()
	if err := h.repo.Create(ctx, issue); err != nil {
		slog.Error("failed to create issue", "error", err)
		internalError(c, "failed to create issue")
		return
	}
	slog.Info("issue created", "id", issue.ID, "category", issue.Category)

	out := format.ToClient(issue)
	h.changed(ctx, models.EventIssueCreated, out)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": out})
}

func (h *Handler) updateIssue(c *gin.Context) {
	var req updateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	issue, ok := h.load(c)
	if !ok {
		return
	}

	verr := &query.ValidationError{}
	if req.Title != nil {
		issue.Title = checkText(verr, "title", *req.Title, maxTitleLength)
	}
	if req.Description != nil {
		issue.Description = checkText(verr, "description", *req.Description, maxDescriptionLength)
	}
	if req.Category != nil {
		if v, err := models.ParseCategory(*req.Category); err != nil {
			verr.Fields = append(verr.Fields, query.FieldError{Field: "category", Message: err.Error()})
		} else {
			issue.Category = v
		}
	}
	if req.Status != nil {
		if v, err := models.ParseStatus(*req.Status); err != nil {
			verr.Fields = append(verr.Fields, query.FieldError{Field: "status", Message: err.Error()})
		} else {
			issue.Status = v
		}
	}
	if req.Severity != nil {
		if v, err := models.ParseSeverity(*req.Severity); err != nil {
			verr.Fields = append(verr.Fields, query.FieldError{Field: "severity", Message: err.Error()})
		} else {
			issue.Severity = v
		}
	}
	if req.Location != nil {
		issue.Location = format.ToPoint(checkLocation(verr, req.Location))
	}
	if req.Images != nil {
		checkImages(verr, req.Images)
		issue.Images = req.Images
	}
	if len(verr.Fields) > 0 {
		validationError(c, verr)
		return
	}

	issue.UpdatedAt = h.now().UTC()
	ctx := c.Request.Context()
	if err := h.repo.Update(ctx, issue); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c)
			return
		}
		slog.Error("failed to update issue", "id", issue.ID, "error", err)
		internalError(c, "failed to update issue")
		return
	}

	out := format.ToClient(issue)
	h.changed(ctx, models.EventIssueUpdated, out)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

func (h *Handler) deleteIssue(c *gin.Context) {
	issue, ok := h.load(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.repo.Delete(ctx, issue.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c)
			return
		}
		slog.Error("failed to delete issue", "id", issue.ID, "error", err)
		internalError(c, "failed to delete issue")
		return
	}
	slog.Info("issue deleted", "id", issue.ID)

	h.changed(ctx, models.EventIssueDeleted, format.ToClient(issue))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "issue deleted"})
}

func (h *Handler) vote(c *gin.Context) {
	h.applyVote(c, h.repo.AddVote)
}

func (h *Handler) unvote(c *gin.Context) {
	h.applyVote(c, h.repo.RemoveVote)
}

func (h *Handler) applyVote(c *gin.Context, apply func(ctx context.Context, issueID, voterID string) (int, error)) {
	ctx := c.Request.Context()
	id := c.Param("id")

	count, err := apply(ctx, id, voterID(c))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c)
			return
		}
		slog.Error("failed to record vote", "id", id, "error", err)
		internalError(c, "failed to record vote")
		return
	}

	if issue, err := h.repo.GetByID(ctx, id); err == nil {
		h.changed(ctx, models.EventIssueVoted, format.ToClient(issue))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": id, "voteCount": count}})
}

// voterID is the token subject, or the client address for anonymous callers.
func voterID(c *gin.Context) string {
	if id, ok := identityFrom(c); ok {
		return id.ID
	}
	return "ip:" + c.ClientIP()
}

func (h *Handler) streamIssues(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "event stream disabled"})
		return
	}

	status, err := models.ParseFilterStatus(c.Query("status"))
	if err != nil {
		validationError(c, &query.ValidationError{Fields: []query.FieldError{{Field: "status", Message: err.Error()}}})
		return
	}
	category, err := models.ParseFilterCategory(c.Query("category"))
	if err != nil {
		validationError(c, &query.ValidationError{Fields: []query.FieldError{{Field: "category", Message: err.Error()}}})
		return
	}

	id, ch := h.broadcaster.Subscribe(func(ev models.IssueEvent) bool {
		if status != "" && ev.Issue.Status != status {
			return false
		}
		return category == "" || ev.Issue.Category == category
	})
	defer h.broadcaster.Unsubscribe(id)

	metrics.SSEClients.Inc()
	defer metrics.SSEClients.Dec()
	slog.Info("client subscribed to issue stream", "subscriber_id", id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("connected", gin.H{"status": "connected"})
	c.Writer.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			slog.Info("client disconnected from issue stream", "subscriber_id", id)
			return
		case <-keepAlive.C:
			c.SSEvent("ping", h.now().Unix())
			c.Writer.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("health check: database unreachable", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":         "error",
			"message":        "database unavailable",
			"timestamp":      h.now().UTC(),
			"databaseStatus": "disconnected",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"message":        "civic issues API is running",
		"timestamp":      h.now().UTC(),
		"databaseStatus": "connected",
	})
}

func (h *Handler) load(c *gin.Context) (*models.StoredIssue, bool) {
	issue, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		notFound(c)
		return nil, false
	}
	if err != nil {
		slog.Error("failed to fetch issue", "id", c.Param("id"), "error", err)
		internalError(c, "failed to fetch issue")
		return nil, false
	}
	return issue, true
}

// changed invalidates cached pages and publishes the change.
func (h *Handler) changed(ctx context.Context, t models.EventType, issue models.Issue) {
	h.cache.Invalidate(ctx)
	if h.publisher != nil {
		h.publisher.Publish(models.IssueEvent{Type: t, Issue: issue, OccurredAt: h.now().UnixMilli()})
	}
}

func checkText(verr *query.ValidationError, field, value string, max int) string {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		verr.Fields = append(verr.Fields, query.FieldError{Field: field, Message: field + " is required"})
	case len(v) > max:
		verr.Fields = append(verr.Fields, query.FieldError{Field: field, Message: field + " is too long"})
	}
	return v
}

func checkLocation(verr *query.ValidationError, req *locationRequest) models.IssueLocation {
	if req == nil || req.Lat == nil || req.Lng == nil {
		verr.Fields = append(verr.Fields, query.FieldError{Field: "location", Message: "lat and lng are required"})
		return models.IssueLocation{}
	}
	loc := models.IssueLocation{Lat: *req.Lat, Lng: *req.Lng, Address: strings.TrimSpace(req.Address)}
	if err := loc.Coordinate().Validate(); err != nil {
		verr.Fields = append(verr.Fields, query.FieldError{Field: "location", Message: err.Error()})
	}
	return loc
}

func checkImages(verr *query.ValidationError, images []string) {
	if len(images) > maxImages {
		verr.Fields = append(verr.Fields, query.FieldError{Field: "images", Message: "too many images"})
	}
}

func validationError(c *gin.Context, err error) {
	var verr *query.ValidationError
	if !errors.As(err, &verr) {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "validation failed",
		"details": verr.Fields,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "issue not found"})
}

func internalError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": msg})
}
