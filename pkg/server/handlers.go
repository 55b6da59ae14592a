package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/imaging"
)

// handleDetectText decodes the uploaded image, runs text detection and
// replies with the first text annotation, or {} when nothing was found.
func (s *Server) handleDetectText(c *fiber.Ctx) error {
	if !s.enter() {
		return s.fail(c, fiber.StatusServiceUnavailable, "", errShuttingDown)
	}
	defer s.active.Done()

	fh, err := c.FormFile(FormField)
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, "", fmt.Errorf("missing %q field: %w", FormField, err))
	}

	f, err := fh.Open()
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, "", fmt.Errorf("open upload: %w", err))
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return s.fail(c, fiber.StatusBadRequest, "", fmt.Errorf("read upload: %w", err))
	}

	ctx := s.ctx

	var (
		img     annotate.RawImage
		payload []byte
		prepErr error
	)
	if err := s.exec.Do(ctx, func() {
		img, prepErr = imaging.Decode(data)
		if prepErr != nil {
			return
		}
		payload, prepErr = s.prep.Prepare(img, annotate.Text)
	}); err != nil {
		status := fiber.StatusServiceUnavailable
		if errors.Is(err, errJobPanicked) {
			status = fiber.StatusUnprocessableEntity
		}
		return s.fail(c, status, "", err)
	}
	if prepErr != nil {
		status := fiber.StatusUnprocessableEntity
		if errors.Is(prepErr, imaging.ErrDecode) {
			status = fiber.StatusBadRequest
		}
		return s.fail(c, status, img.ID, prepErr)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	result, err := s.svc.Annotate(callCtx, &annotate.Request{
		Kind:          annotate.Text,
		Image:         payload,
		MaxResults:    s.config.MaxResults,
		LanguageHints: s.config.LanguageHints,
	})
	if err != nil {
		status := fiber.StatusBadGateway
		switch {
		case errors.Is(err, annotate.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			status = fiber.StatusGatewayTimeout
		case s.ctx.Err() != nil:
			status = fiber.StatusServiceUnavailable
		}
		return s.fail(c, status, img.ID, err)
	}
	if result == nil {
		result = &annotate.Result{Kind: annotate.Text}
	}

	s.logger.Info("annotated upload",
		"image_id", img.ID,
		"bytes", len(data),
		"detections", result.Detections(),
	)

	var reply any = fiber.Map{}
	if first := result.FirstText(); first != nil {
		reply = first
	}
	// c.JSON only buffers the reply; fasthttp writes it after we return, so
	// the publication below can reach the channel before the client reads it.
	if err := c.JSON(reply); err != nil {
		return err
	}

	s.publish(annotate.Response{Result: result, Image: img})
	return nil
}

func (s *Server) fail(c *fiber.Ctx, status int, imageID string, err error) error {
	s.logger.Warn("upload rejected",
		"status", status,
		"image_id", imageID,
		"error", err,
	)
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}
