// videocursor/api/handler.go
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"videocursor/asset"
	"videocursor/classify"
	"videocursor/config"
	"videocursor/edit"
	"videocursor/ffmpeg"
	"videocursor/job"
	"videocursor/resolve"
)

// Prober reads media metadata. Satisfied by ffmpeg.Runner.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

type Handler struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      *asset.Store
	slots      *asset.Slots
	resolver   *resolve.Resolver
	manager    *job.Manager
	classifier classify.Classifier
	prober     Prober
}

func NewHandler(cfg *config.Config, log *logrus.Logger, store *asset.Store, slots *asset.Slots,
	resolver *resolve.Resolver, manager *job.Manager, classifier classify.Classifier, prober Prober) *Handler {
	return &Handler{
		cfg:        cfg,
		log:        log,
		store:      store,
		slots:      slots,
		resolver:   resolver,
		manager:    manager,
		classifier: classifier,
		prober:     prober,
	}
}

// handleUpload ingests a media file, probes its duration, and makes it the
// session's working asset.
func (h *Handler) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds upload limit of %d bytes", h.cfg.MaxUploadSize)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	defer file.Close()

	a, err := h.store.SaveUpload(header.Filename, file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds upload limit of %d bytes", h.cfg.MaxUploadSize)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}

	if probe, err := h.prober.Probe(c.Request.Context(), h.store.Path(a)); err == nil {
		if secs := probe.DurationSeconds(); secs > 0 {
			if err := h.store.SetDuration(a.ID, secs); err == nil {
				a.Duration = secs
			}
		}
	} else {
		h.log.WithError(err).WithField("file", a.ID).Warn("could not probe upload")
	}

	if a.Kind == asset.KindVideo {
		h.slots.SetCurrent(sessionID(c), a.ID)
	}

	c.JSON(http.StatusCreated, gin.H{
		"file_id":      a.ID,
		"filename":     a.DisplayName,
		"content_type": a.ContentType(),
		"kind":         a.Kind,
		"size":         a.Size,
		"duration":     a.Duration,
	})
}

func (h *Handler) handleListFiles(c *gin.Context) {
	files, err := h.store.List(asset.OriginUpload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list files"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) handleDeleteFile(c *gin.Context) {
	fileID := c.Param("fileId")

	if err := h.store.Delete(fileID); err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		if errors.Is(err, asset.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "file is referenced by a queued or running job"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete file"})
		return
	}
	h.slots.Forget(fileID)
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) handleInfo(c *gin.Context) {
	a, err := h.store.Get(c.Param("fileId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	probe, err := h.prober.Probe(c.Request.Context(), h.store.Path(a))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not read media metadata"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file_id":  a.ID,
		"filename": a.DisplayName,
		"format":   probe.Format,
		"streams":  probe.Streams,
		"duration": probe.DurationSeconds(),
	})
}

func (h *Handler) handlePreview(c *gin.Context) {
	a, err := h.store.Get(c.Param("fileId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.Header("Content-Type", a.ContentType())
	c.File(h.store.Path(a))
}

func (h *Handler) handleListOutputs(c *gin.Context) {
	outputs, err := h.store.List(asset.OriginEdit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list outputs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outputs": outputs})
}

func (h *Handler) handleGetOutput(c *gin.Context) {
	path, err := h.store.ResolveOutput(c.Param("filename"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "output not found"})
		return
	}
	c.File(path)
}

func (h *Handler) handleDownload(c *gin.Context) {
	a, err := h.store.Get(c.Param("fileId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	name := a.DisplayName
	if a.Origin == asset.OriginEdit {
		base := strings.TrimSuffix(a.DisplayName, filepath.Ext(a.DisplayName))
		name = "edited_" + base + a.Ext()
	}
	c.FileAttachment(h.store.Path(a), name)
}

type selectRequest struct {
	FileID string `json:"file_id" binding:"required"`
}

func (h *Handler) handleSelect(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.store.Get(req.FileID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	h.slots.SetCurrent(sessionID(c), a.ID)
	c.JSON(http.StatusOK, gin.H{"file_id": a.ID, "filename": a.DisplayName})
}

func (h *Handler) handleCurrent(c *gin.Context) {
	a := h.currentAsset(c)
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no file selected"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// currentAsset returns the session's working asset, nil when none is
// selected or the selection no longer exists.
func (h *Handler) currentAsset(c *gin.Context) *asset.Asset {
	id, ok := h.slots.Current(sessionID(c))
	if !ok {
		return nil
	}
	a, err := h.store.Get(id)
	if err != nil {
		return nil
	}
	return a
}

// editHandler builds the handler for one typed edit endpoint. The body
// carries the operation's parameters plus an optional file_id; without one
// the session's working asset is used.
func (h *Handler) editHandler(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw map[string]interface{}
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		source, err := h.sourceFromRequest(c, raw)
		if err != nil {
			if errors.Is(err, asset.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		delete(raw, "file_id")

		op, err := edit.Validate(edit.Kind(kind), raw)
		if err != nil {
			var verr *edit.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		h.runSync(c, op, source)
	}
}

var errNoSelection = errors.New("no file_id given and no file selected")

// sourceFromRequest picks the asset named by file_id in the body, falling
// back to the session's working asset. An explicit file_id that does not
// exist is a lookup failure, not a missing selection.
func (h *Handler) sourceFromRequest(c *gin.Context, raw map[string]interface{}) (*asset.Asset, error) {
	if id, ok := raw["file_id"].(string); ok && id != "" {
		return h.store.Get(id)
	}
	if a := h.currentAsset(c); a != nil {
		return a, nil
	}
	return nil, errNoSelection
}

// runSync submits the operation and blocks until the job finishes, then
// answers with the terminal result.
func (h *Handler) runSync(c *gin.Context, op edit.Operation, source *asset.Asset) {
	j, err := h.manager.Submit(op, source, sessionID(c))
	if err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.manager.WaitTerminal(c.Request.Context(), j.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job interrupted"})
		return
	}

	if snap.State == job.StateFailed {
		c.JSON(http.StatusUnprocessableEntity, h.terminalPayload(c, snap.ID, job.Event{
			Status:   job.EventError,
			Progress: snap.Progress,
			Message:  snap.Error,
		}))
		return
	}

	c.JSON(http.StatusOK, h.terminalPayload(c, snap.ID, job.Event{
		Status:        job.EventCompleted,
		Progress:      snap.Progress,
		ResultAssetID: snap.ResultAssetID,
	}))
}

// terminalPayload is the one terminal shape every execution path answers
// with, whether the client waited synchronously or subscribed to the event
// stream. Success carries output_id and download_url, failure carries error;
// both carry job_id and the final progress.
func (h *Handler) terminalPayload(c *gin.Context, jobID string, ev job.Event) gin.H {
	out := gin.H{
		"status":   ev.Status,
		"job_id":   jobID,
		"progress": ev.Progress,
	}
	if ev.Status == job.EventError {
		out["error"] = ev.Message
		return out
	}
	out["output_id"] = ev.ResultAssetID
	out["download_url"] = h.downloadURL(c, ev.ResultAssetID)
	return out
}

func (h *Handler) downloadURL(c *gin.Context, outputID string) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	return fmt.Sprintf("%s/api/download/%s", strings.TrimSuffix(baseURL, "/"), outputID)
}

type aiEditRequest struct {
	Prompt   string `json:"prompt" binding:"required"`
	VideoID  string `json:"video_id"`
	EditType string `json:"edit_type"`
}

// handleAIEdit resolves a natural-language instruction into an operation
// and runs it synchronously.
func (h *Handler) handleAIEdit(c *gin.Context) {
	var req aiEditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var source *asset.Asset
	if req.VideoID != "" {
		a, err := h.store.Get(req.VideoID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		source = a
	} else {
		source = h.currentAsset(c)
	}

	op, err := h.resolver.Resolve(c.Request.Context(), req.Prompt, req.EditType, source)
	if err != nil {
		h.answerUnresolved(c, err)
		return
	}

	h.runSync(c, op, source)
}

// answerUnresolved maps resolution failures onto responses. An instruction
// the service understood but cannot act on is a conversation, not an error.
func (h *Handler) answerUnresolved(c *gin.Context, err error) {
	var u *resolve.Unresolved
	if errors.As(err, &u) {
		c.JSON(http.StatusOK, gin.H{
			"status": "conversation",
			"reason": u.Reason,
			"reply":  u.Reply,
			"detail": u.Detail,
		})
		return
	}
	if errors.Is(err, classify.ErrUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "instruction service unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// handleAIEditStream is the SSE variant: it resolves the prompt, submits
// the job, and streams progress events until a terminal one.
func (h *Handler) handleAIEditStream(c *gin.Context) {
	prompt := c.Query("prompt")
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt query parameter required"})
		return
	}

	source, err := h.store.Get(c.Param("fileId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	op, err := h.resolver.Resolve(c.Request.Context(), prompt, c.Query("edit_type"), source)
	if err != nil {
		h.answerUnresolved(c, err)
		return
	}

	j, err := h.manager.Submit(op, source, sessionID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, cancel := j.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, open := <-events:
			if !open {
				return false
			}
			if ev.Status == job.EventCompleted || ev.Status == job.EventError {
				c.SSEvent(ev.Status, h.terminalPayload(c, j.ID, ev))
				return false
			}
			c.SSEvent(ev.Status, ev)
			return true
		}
	})
}

type analyzeRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (h *Handler) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := h.classifier.Analyze(c.Request.Context(), req.Prompt)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "instruction service unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": kind})
}
