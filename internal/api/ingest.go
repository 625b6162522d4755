package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/ingest"
	"github.com/RemilRLs/KnowHub/internal/jobs"
	"github.com/RemilRLs/KnowHub/internal/objstore"
	"github.com/RemilRLs/KnowHub/internal/uploads"
)

// presignTTL is how long an upload URL stays valid.
const presignTTL = 600 * time.Second

type presignRequest struct {
	Filename    string `json:"filename" binding:"required"`
	Collection  string `json:"collection"`
	ContentType string `json:"content_type"`
}

type presignResponse struct {
	DocID     string            `json:"doc_id"`
	S3Key     string            `json:"s3_key"`
	UploadURL string            `json:"upload_url"`
	ExpiresIn int               `json:"expires_in"`
	Headers   map[string]string `json:"headers"`
}

// presignOne checks the extension allow-list, signs an upload URL and
// creates the coordination record. The returned status is the HTTP code
// of the failure.
func (s *Server) presignOne(c *gin.Context, filename, contentType string) (*presignResponse, int, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.cfg.ExtensionAllowed(ext) {
		return nil, http.StatusBadRequest, fmt.Errorf("extension %q is not allowed", ext)
	}

	docID := uuid.NewString()
	key := objstore.UploadKey(docID, filename)

	url, err := s.bucket.PresignedPutURL(c.Request.Context(), key, presignTTL)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("presign %s: %w", filename, err)
	}
	if _, err := s.tracker.Create(c.Request.Context(), docID, key, filename, presignTTL); err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("track upload %s: %w", docID, err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &presignResponse{
		DocID:     docID,
		S3Key:     key,
		UploadURL: url,
		ExpiresIn: int(presignTTL.Seconds()),
		Headers:   map[string]string{"Content-Type": contentType},
	}, 0, nil
}

func (s *Server) handlePresign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, status, err := s.presignOne(c, req.Filename, req.ContentType)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

type presignBatchRequest struct {
	Collection string `json:"collection"`
	Files      []struct {
		Filename    string `json:"filename" binding:"required"`
		ContentType string `json:"content_type"`
	} `json:"files" binding:"required"`
}

func (s *Server) handlePresignBatch(c *gin.Context) {
	var req presignBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]*presignResponse, 0, len(req.Files))
	refused := make([]string, 0)
	for _, f := range req.Files {
		resp, _, err := s.presignOne(c, f.Filename, f.ContentType)
		if err != nil {
			s.logger.Warn("presign refused",
				zap.String("filename", f.Filename), zap.Error(err))
			refused = append(refused, f.Filename)
			continue
		}
		items = append(items, resp)
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "file_refused": refused})
}

type enqueueRequest struct {
	DocID          string `json:"doc_id" binding:"required"`
	S3Key          string `json:"s3_key" binding:"required"`
	Filename       string `json:"filename" binding:"required"`
	Collection     string `json:"collection" binding:"required"`
	ChecksumSHA256 string `json:"checksum_sha256"`
}

// enqueueOne runs the presign-pair and existence checks and submits the
// validate stage. The returned status is the HTTP code of the failure.
func (s *Server) enqueueOne(c *gin.Context, req enqueueRequest) (string, int, error) {
	ctx := c.Request.Context()

	if _, err := s.tracker.Match(ctx, req.DocID, req.S3Key); err != nil {
		if errors.Is(err, uploads.ErrPairMismatch) || errors.Is(err, uploads.ErrRecordExpired) {
			return "", http.StatusBadRequest, err
		}
		return "", http.StatusInternalServerError, err
	}

	exists, err := s.bucket.ObjectExists(ctx, req.S3Key)
	if err != nil {
		return "", http.StatusInternalServerError, err
	}
	if !exists {
		return "", http.StatusNotFound, fmt.Errorf("s3 key not found: %s", req.S3Key)
	}

	jobID, err := s.broker.Enqueue(ctx, jobs.QueueIngestValidate, ingest.ActorValidateAndPromote,
		ingest.ValidatePayload{
			DocID:          req.DocID,
			S3Key:          req.S3Key,
			Filename:       req.Filename,
			Collection:     req.Collection,
			ChecksumSHA256: req.ChecksumSHA256,
		})
	if err != nil {
		return "", http.StatusInternalServerError, err
	}
	return jobID, 0, nil
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, status, err := s.enqueueOne(c, req)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"queue":  jobs.QueueIngestValidate,
		"actor":  ingest.ActorValidateAndPromote,
	})
}

type enqueueBatchRequest struct {
	Collection string `json:"collection" binding:"required"`
	Items      []struct {
		DocID          string `json:"doc_id" binding:"required"`
		S3Key          string `json:"s3_key" binding:"required"`
		Filename       string `json:"filename" binding:"required"`
		ChecksumSHA256 string `json:"checksum_sha256"`
	} `json:"items" binding:"required"`
}

func (s *Server) handleEnqueueBatch(c *gin.Context) {
	var req enqueueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobIDs := make([]string, 0, len(req.Items))
	refused := make([]string, 0)
	for _, item := range req.Items {
		jobID, _, err := s.enqueueOne(c, enqueueRequest{
			DocID:          item.DocID,
			S3Key:          item.S3Key,
			Filename:       item.Filename,
			Collection:     req.Collection,
			ChecksumSHA256: item.ChecksumSHA256,
		})
		if err != nil {
			s.logger.Warn("enqueue refused",
				zap.String("filename", item.Filename), zap.Error(err))
			refused = append(refused, item.Filename)
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	c.JSON(http.StatusOK, gin.H{
		"collection":   req.Collection,
		"job_ids":      jobIDs,
		"file_refused": refused,
		"queue":        jobs.QueueIngestValidate,
	})
}

func (s *Server) handleIngestStatus(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id is required"})
		return
	}
	waitMs := intQuery(c, "wait_ms", 0)
	// queue and actor_name are accepted for clients that echo the enqueue
	// response back, but the job id alone keys the result lookup.
	_ = c.Query("queue")
	_ = c.Query("actor_name")

	state, res, err := s.broker.PollResult(c.Request.Context(), jobID,
		time.Duration(waitMs)*time.Millisecond)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if state != jobs.PollDone {
		c.JSON(http.StatusOK, gin.H{"status": state})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": state, "result": resultBody(res)})
}

// resultBody unwraps a stored result for the client: the success value as
// raw JSON, or the error in the non-streaming actors' shape.
func resultBody(res *jobs.Result) any {
	if res.Status == "error" {
		return gin.H{"status": "error", "error": res.Error}
	}
	return json.RawMessage(res.Value)
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

// handleEmbed is the embedding passthrough used by in-cluster callers.
func (s *Server) handleEmbed(c *gin.Context) {
	var req embedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Texts) == 0 {
		c.JSON(http.StatusOK, gin.H{"embeddings": [][]float32{}})
		return
	}

	vectors, err := s.embedder.EmbedTexts(c.Request.Context(), req.Texts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"embeddings": vectors})
}
