package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/minasoft/hl7-gateway/internal/adapters"
	"github.com/minasoft/hl7-gateway/internal/config"
	"github.com/minasoft/hl7-gateway/internal/consumers"
	"github.com/minasoft/hl7-gateway/internal/db"
	"github.com/minasoft/hl7-gateway/internal/hl7"
	"github.com/minasoft/hl7-gateway/internal/mllp"
	"github.com/minasoft/hl7-gateway/internal/nats"
	"github.com/minasoft/hl7-gateway/internal/transform"
)

// Server exposes the gateway's operational JSON API: on-demand parsing,
// validation and transformation, rule set management, message history and
// connection introspection.
type Server struct {
	echo     *echo.Echo
	js       jetstream.JetStream
	config   *config.Config
	manager  *mllp.ConnectionManager
	engine   *transform.Engine
	registry *adapters.Registry
}

func NewServer(js jetstream.JetStream, cfg *config.Config, manager *mllp.ConnectionManager) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	return &Server{
		echo:     e,
		js:       js,
		config:   cfg,
		manager:  manager,
		engine:   transform.NewEngine(),
		registry: adapters.NewRegistry(adapters.NewFHIRAdapter(), adapters.NewCCDAAdapter()),
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	addr := fmt.Sprintf(":%d", s.config.WebPort)
	slog.Info("web server starting", "port", s.config.WebPort)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("web server failed", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/messages", s.handleGetMessages)
	api.GET("/connections", s.handleGetConnections)
	api.GET("/streams", s.handleGetStreams)

	api.POST("/parse", s.handleParse)
	api.POST("/validate", s.handleValidate)
	api.POST("/transform", s.handleTransform)
	api.POST("/convert", s.handleConvert)

	api.GET("/rulesets", s.handleListRuleSets)
	api.GET("/rulesets/:name", s.handleGetRuleSet)
	api.PUT("/rulesets/:name", s.handlePutRuleSet)
	api.DELETE("/rulesets/:name", s.handleDeleteRuleSet)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	components := make(map[string]string)
	overallStatus := "healthy"

	if s.js != nil {
		if _, err := s.js.AccountInfo(ctx); err != nil {
			components["nats"] = "unhealthy: " + err.Error()
			overallStatus = "degraded"
		} else {
			components["nats"] = "healthy"
		}
	} else {
		components["nats"] = "unhealthy: not initialized"
		overallStatus = "unhealthy"
	}

	stream, err := s.js.Stream(ctx, nats.StreamMessages)
	if err != nil {
		components["message_stream"] = "unhealthy: stream not found"
		overallStatus = "degraded"
	} else {
		info, _ := stream.Info(ctx)
		if info != nil {
			components["message_stream"] = fmt.Sprintf("healthy (messages: %d)", info.State.Msgs)
		} else {
			components["message_stream"] = "healthy"
		}
	}

	for _, bucket := range []string{nats.BucketRuleSets, nats.BucketStats, nats.BucketHistory} {
		kv, err := s.js.KeyValue(ctx, bucket)
		if err != nil {
			components[bucket] = "unhealthy"
			overallStatus = "degraded"
			continue
		}
		status, _ := kv.Status(ctx)
		if status != nil {
			components[bucket] = fmt.Sprintf("healthy (values: %d)", status.Values())
		} else {
			components[bucket] = "healthy"
		}
	}

	components["mllp_connections"] = fmt.Sprintf("healthy (open: %d)", s.manager.Count())

	health := map[string]any{
		"status":     overallStatus,
		"timestamp":  time.Now(),
		"components": components,
		"version":    "1.0.0",
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, health)
}

func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()

	statsKV, err := s.js.KeyValue(ctx, nats.BucketStats)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stats store unavailable")
	}

	getKVUint := func(key string) uint64 {
		entry, err := statsKV.Get(ctx, key)
		if err != nil {
			return 0
		}
		val, _ := strconv.ParseUint(string(entry.Value()), 10, 64)
		return val
	}

	stats := db.Stats{
		Received:  getKVUint("received"),
		Forwarded: getKVUint("forwarded"),
		Failed:    getKVUint("failed"),
		Invalid:   getKVUint("invalid"),
		UpdatedAt: time.Now(),
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetMessages(c echo.Context) error {
	ctx := c.Request().Context()

	status := c.QueryParam("status")
	patientID := c.QueryParam("patientId")
	messageType := c.QueryParam("messageType")

	historyKV, err := s.js.KeyValue(ctx, nats.BucketHistory)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "history store unavailable")
	}

	entries := []consumers.HistoryEntry{}
	keys, err := historyKV.Keys(ctx)
	if err == nil {
		for _, key := range keys {
			kvEntry, err := historyKV.Get(ctx, key)
			if err != nil {
				continue
			}
			var entry consumers.HistoryEntry
			if err := json.Unmarshal(kvEntry.Value(), &entry); err != nil || entry.Envelope == nil {
				continue
			}
			if status != "" && entry.Envelope.Status != status {
				continue
			}
			if patientID != "" && entry.Envelope.PatientID != patientID {
				continue
			}
			if messageType != "" && entry.Envelope.MessageType != messageType {
				continue
			}
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Envelope.ReceivedAt.After(entries[j].Envelope.ReceivedAt)
	})
	if len(entries) > 100 {
		entries = entries[:100]
	}

	return c.JSON(http.StatusOK, map[string]any{
		"count":    len(entries),
		"messages": entries,
	})
}

func (s *Server) handleGetConnections(c echo.Context) error {
	infos := s.manager.Snapshot()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return c.JSON(http.StatusOK, map[string]any{
		"count":       s.manager.Count(),
		"connections": infos,
	})
}

func (s *Server) handleGetStreams(c echo.Context) error {
	ctx := c.Request().Context()

	stream, err := s.js.Stream(ctx, nats.StreamMessages)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stream unavailable")
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stream info unavailable")
	}

	out := db.StreamInfo{
		Name:          info.Config.Name,
		Messages:      info.State.Msgs,
		Bytes:         info.State.Bytes,
		FirstSequence: info.State.FirstSeq,
		LastSequence:  info.State.LastSeq,
	}
	return c.JSON(http.StatusOK, []db.StreamInfo{out})
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleParse(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg, err := hl7.Parse(req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":                msg.ID,
		"messageType":       msg.Type.String(),
		"version":           msg.Version,
		"controlId":         msg.MessageControlID,
		"sendingApp":        msg.SendingApplication,
		"sendingFacility":   msg.SendingFacility,
		"receivingApp":      msg.ReceivingApplication,
		"receivingFacility": msg.ReceivingFacility,
		"timestamp":         msg.Timestamp,
		"segmentCount":      len(msg.Segments),
		"isValid":           msg.IsValid,
		"validationErrors":  msg.ValidationErrors,
	})
}

func (s *Server) handleValidate(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg, err := hl7.Parse(req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	valid, issues := hl7.Validate(msg)
	return c.JSON(http.StatusOK, map[string]any{
		"isValid": valid,
		"issues":  issues,
	})
}

type transformRequest struct {
	Message string `json:"message"`
	RuleSet string `json:"ruleSet"`
}

// handleTransform applies either an inline rule set document or a stored
// one referenced by name.
func (s *Server) handleTransform(c echo.Context) error {
	var req transformRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg, err := hl7.Parse(req.Message)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	var rs *transform.RuleSet
	if json.Valid([]byte(req.RuleSet)) {
		rs, err = transform.ParseRuleSet([]byte(req.RuleSet))
	} else {
		rs, err = s.loadRuleSet(c.Request().Context(), req.RuleSet)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.engine.Transform(msg, rs)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ruleSet": rs.Name,
		"result":  res,
	})
}

type convertRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Format  string `json:"format"`
}

// handleConvert converts in both directions: with a message and a format
// it produces an external document; with external content it sniffs the
// format and synthesizes a message.
func (s *Server) handleConvert(c echo.Context) error {
	var req convertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Message != "" {
		adapter, ok := s.registry.ForName(req.Format)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("unknown format %q, available: %v", req.Format, s.registry.Names()))
		}
		msg, err := hl7.Parse(req.Message)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		doc, err := adapter.ConvertFrom(msg)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		encoded, err := adapter.Encode(doc)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{
			"format":     adapter.Name(),
			"content":    encoded,
			"validation": adapter.ValidateData(doc),
		})
	}

	adapter, ok := s.registry.ForContent(req.Content)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "content matches no known format")
	}
	doc, err := adapter.Decode(req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	msg, err := adapter.ConvertTo(doc)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"format":     adapter.Name(),
		"message":    msg.RawMessage,
		"validation": adapter.ValidateData(doc),
	})
}

func (s *Server) loadRuleSet(ctx context.Context, name string) (*transform.RuleSet, error) {
	if name == "" {
		return nil, fmt.Errorf("rule set name or document is required")
	}
	kv, err := s.js.KeyValue(ctx, nats.BucketRuleSets)
	if err != nil {
		return nil, fmt.Errorf("ruleset store unavailable")
	}
	entry, err := kv.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("rule set %q not found", name)
	}
	return transform.ParseRuleSet(entry.Value())
}

func (s *Server) handleListRuleSets(c echo.Context) error {
	ctx := c.Request().Context()

	kv, err := s.js.KeyValue(ctx, nats.BucketRuleSets)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "ruleset store unavailable")
	}

	names := []string{}
	if keys, err := kv.Keys(ctx); err == nil {
		names = keys
	}
	sort.Strings(names)
	return c.JSON(http.StatusOK, map[string]any{"ruleSets": names})
}

func (s *Server) handleGetRuleSet(c echo.Context) error {
	rs, err := s.loadRuleSet(c.Request().Context(), c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, rs)
}

func (s *Server) handlePutRuleSet(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	var rs transform.RuleSet
	if err := c.Bind(&rs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule set document")
	}
	if rs.Name == "" {
		rs.Name = name
	}
	if err := rs.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	data, err := rs.Encode()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	kv, err := s.js.KeyValue(ctx, nats.BucketRuleSets)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "ruleset store unavailable")
	}
	if _, err := kv.Put(ctx, name, data); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	slog.Info("rule set stored", "name", name, "mappings", len(rs.Mappings))
	return c.JSON(http.StatusOK, rs)
}

func (s *Server) handleDeleteRuleSet(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	kv, err := s.js.KeyValue(ctx, nats.BucketRuleSets)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "ruleset store unavailable")
	}
	if err := kv.Delete(ctx, name); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("rule set %q not found", name))
	}

	slog.Info("rule set deleted", "name", name)
	return c.NoContent(http.StatusNoContent)
}
