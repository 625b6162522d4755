package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RemilRLs/KnowHub/internal/genstream"
	"github.com/RemilRLs/KnowHub/internal/jobs"
)

// Subscriber tuning. The idle timeout bounds how long a stream with no
// events keeps an HTTP connection open; the worker may still be queued
// behind other generation jobs, so it is generous.
const (
	streamReadCount   = 10
	streamReadBlock   = time.Second
	streamIdleTimeout = 5 * time.Minute
)

type generateRequest struct {
	Query      string   `json:"query" binding:"required"`
	Collection string   `json:"collection" binding:"required"`
	K          int      `json:"k"`
	Sources    []string `json:"sources"`
	// Pointer keeps an explicit temperature of 0 distinct from omitted.
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

// handleGenerateSubmit queues the non-streaming generation actor.
func (s *Server) handleGenerateSubmit(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := s.broker.Enqueue(c.Request.Context(), jobs.QueueGeneration,
		genstream.ActorGenerateAnswer, genstream.GeneratePayload{
			Query:       req.Query,
			Collection:  req.Collection,
			K:           req.K,
			Sources:     req.Sources,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("generation job submitted",
		zap.String("job_id", jobID), zap.String("collection", req.Collection))
	c.JSON(http.StatusOK, gin.H{
		"job_id":  jobID,
		"status":  "pending",
		"message": "generation job submitted; poll /generate/status with job_id",
	})
}

type generateStatusRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

func (s *Server) handleGenerateStatus(c *gin.Context) {
	var req generateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, res, err := s.broker.PollResult(c.Request.Context(), req.JobID, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if state != jobs.PollDone {
		c.JSON(http.StatusOK, gin.H{
			"job_id":  req.JobID,
			"status":  "pending",
			"message": "job is still processing",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job_id": req.JobID,
		"status": "completed",
		"result": resultBody(res),
	})
}

// handleGenerateStream enqueues the streaming actor under a correlation
// id chosen here, then relays the job's event log as SSE until the
// terminal event. The worker never blocks on this connection: it writes
// to the log and the subscriber drains it.
func (s *Server) handleGenerateStream(c *gin.Context) {
	query := c.Query("query")
	collection := c.Query("collection")
	if query == "" || collection == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query and collection are required"})
		return
	}

	var sources []string
	if raw := c.Query("sources"); raw != "" {
		for _, src := range strings.Split(raw, ",") {
			if src = strings.TrimSpace(src); src != "" {
				sources = append(sources, src)
			}
		}
	}

	jobID := fmt.Sprintf("stream-%d-%d", time.Now().UnixMilli(), s.streamSeq.Add(1))
	payload := genstream.GeneratePayload{
		JobID:       jobID,
		Query:       query,
		Collection:  collection,
		K:           intQuery(c, "k", 0),
		Sources:     sources,
		Temperature: floatQueryPtr(c, "temperature"),
		MaxTokens:   intQuery(c, "max_tokens", 0),
	}
	if err := s.broker.EnqueueWithID(c.Request.Context(), jobs.QueueGeneration,
		genstream.ActorGenerateAnswerStream, jobID, payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log := s.logger.With(zap.String("job_id", jobID), zap.String("collection", collection))
	log.Info("stream job submitted")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	lastID := "0-0"
	deadline := time.Now().Add(streamIdleTimeout)

	for {
		if time.Now().After(deadline) {
			log.Warn("stream idle timeout")
			writeSSE(c, genstream.EventError, `{"error":"stream timed out"}`)
			return
		}

		events, err := s.events.Read(ctx, jobID, lastID, streamReadCount, streamReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("stream read failed", zap.Error(err))
			body, _ := json.Marshal(gin.H{"error": err.Error()})
			writeSSE(c, genstream.EventError, string(body))
			return
		}
		if len(events) == 0 {
			continue
		}
		deadline = time.Now().Add(streamIdleTimeout)

		for _, ev := range events {
			lastID = ev.ID
			if ev.Type == genstream.EventToken {
				body, _ := json.Marshal(gin.H{"token": ev.Data})
				fmt.Fprintf(c.Writer, "data: %s\n\n", body)
				continue
			}
			writeSSE(c, ev.Type, ev.Data)
			if ev.Type == genstream.EventDone || ev.Type == genstream.EventError {
				c.Writer.Flush()
				return
			}
		}
		c.Writer.Flush()
	}
}

func writeSSE(c *gin.Context, eventType, data string) {
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, data)
	c.Writer.Flush()
}
