// Package server exposes the scan and identification flows over HTTP,
// preserving the legacy driver's routes, wire keys and status codes.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/high-horse/fingerprint-server/internal/config"
	"github.com/high-horse/fingerprint-server/internal/identify"
	"github.com/high-horse/fingerprint-server/internal/scanner"
	"github.com/high-horse/fingerprint-server/internal/store"
)

// ScanService is the orchestrator surface the HTTP layer consumes.
type ScanService interface {
	Scan(ctx context.Context, fingerType string, timeout time.Duration) (*scanner.Result, error)
	Cancel()
	IsScanning() bool
	ExtractTemplate(raw []byte) string
	CompressToWSQ(raw []byte) ([]byte, error)
	SaveScan(ctx context.Context, res *scanner.Result) (*store.Record, error)
}

// Identifier is the identification surface the HTTP layer consumes.
type Identifier interface {
	Identify(ctx context.Context, probeBase64 string) (*identify.Result, error)
}

// Server is the fiber application serving the driver API.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	scans  ScanService
	ident  Identifier
	logger *slog.Logger
}

// New builds the fiber app and registers all routes.
func New(cfg config.Config, scans ScanService, ident Identifier, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(ErrorResponse{Error: firstLine(err.Error())})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.Server.CORSOrigins}))

	s := &Server{app: app, cfg: cfg, scans: scans, ident: ident, logger: logger}

	app.Get("/ping", s.ping)
	app.Get("/health", s.health)
	app.Post("/fingerprints", s.scanFingerprints)
	app.Post("/stopscan", s.stopScan)
	app.Post("/api/identify", s.identifyHandler)
	app.Post("/getWsqFromBmp", s.convertToWSQ)
	app.Post("/extractTemplate", s.extractTemplate)
	if cfg.Server.StaticDir != "" {
		app.Static("/images", cfg.Server.StaticDir)
	}

	return s
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts serving on the configured bind address.
func (s *Server) Listen() error {
	s.logger.Info("server starting", "bind", s.cfg.Server.Bind)
	return s.app.Listen(s.cfg.Server.Bind)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) ping(c *fiber.Ctx) error {
	return c.SendString("ok")
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"time":     time.Now(),
		"scanning": s.scans.IsScanning(),
	})
}

// scanFingerprints runs one capture cycle. A fingerType other than the
// identify-only sentinel enrolls the result after the capture lock is
// released. Status codes are the legacy driver's: 409 busy, 413 timeout,
// 500 hard failure.
func (s *Server) scanFingerprints(c *fiber.Ctx) error {
	timeout := time.Duration(s.cfg.Scanner.DefaultTimeoutMS) * time.Millisecond
	if raw := c.Query("Timeout"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error: "Timeout must be a positive integer of milliseconds",
			})
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	if ceiling := time.Duration(s.cfg.Scanner.MaxTimeoutMS) * time.Millisecond; timeout > ceiling {
		timeout = ceiling
	}

	fingerType := c.Query("fingerType")

	result, err := s.scans.Scan(c.Context(), fingerType, timeout)
	if err != nil {
		return s.scanFailure(c, err)
	}

	if fingerType != "" && !strings.EqualFold(fingerType, scanner.IdentifyOnly) {
		if _, err := s.scans.SaveScan(c.Context(), result); err != nil {
			s.logger.Error("enroll save failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Error: firstLine(err.Error()),
			})
		}
	}

	return c.JSON(ScanResponse{Data: &ScanData{
		WSQImage:       base64.StdEncoding.EncodeToString(result.WSQImage),
		BMPBase64:      base64.StdEncoding.EncodeToString(result.PreviewImage),
		NFIQ:           result.Quality,
		NativeTemplate: base64.StdEncoding.EncodeToString(result.Template),
	}})
}

func (s *Server) scanFailure(c *fiber.Ctx, err error) error {
	var capErr *scanner.CaptureError
	switch {
	case errors.Is(err, scanner.ErrAlreadyCapturing):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, scanner.ErrTimeout):
		// 413 is what legacy clients expect for a capture timeout.
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(ErrorResponse{
			Error: "Timeout waiting for scan",
		})
	case errors.Is(err, scanner.ErrNoDeviceConnected):
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	case errors.As(err, &capErr):
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: firstLine(capErr.Error()),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: firstLine(err.Error()),
		})
	}
}

func (s *Server) stopScan(c *fiber.Ctx) error {
	if s.scans.IsScanning() {
		s.scans.Cancel()
	}
	return c.SendString("ok")
}

func (s *Server) identifyHandler(c *fiber.Ctx) error {
	var req IdentifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
		})
	}

	result, err := s.ident.Identify(c.Context(), req.NativeTemplate)
	if err != nil {
		s.logger.Error("identification failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: firstLine(err.Error()),
		})
	}

	resp := IdentifyResponse{MatchFound: result.MatchFound, Error: result.Note}
	if result.MatchFound {
		quality := result.OriginalQuality
		resp.SuspectID = result.SuspectID
		resp.Score = result.Score
		resp.FingerType = result.FingerType
		resp.OriginalQuality = &quality
	}
	return c.JSON(resp)
}

func (s *Server) convertToWSQ(c *fiber.Ctx) error {
	raw, err := formFileBytes(c, "uploaded_file")
	if err != nil {
		return c.JSON(ConvertResponse{Error: err.Error()})
	}
	wsq, err := s.scans.CompressToWSQ(raw)
	if err != nil {
		// Legacy behavior: conversion failures answer 200 with an error field.
		return c.JSON(ConvertResponse{Error: firstLine(err.Error())})
	}
	return c.JSON(ConvertResponse{WSQImage: base64.StdEncoding.EncodeToString(wsq)})
}

func (s *Server) extractTemplate(c *fiber.Ctx) error {
	raw, err := formFileBytes(c, "uploaded_file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(ExtractResponse{NativeTemplate: s.scans.ExtractTemplate(raw)})
}

func formFileBytes(c *fiber.Ctx, field string) ([]byte, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, errors.New(field + " is required")
	}
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// firstLine truncates verbose diagnostics at the first line break before they
// reach a client.
func firstLine(msg string) string {
	if idx := strings.IndexAny(msg, "\r\n"); idx >= 0 {
		return msg[:idx]
	}
	return msg
}
