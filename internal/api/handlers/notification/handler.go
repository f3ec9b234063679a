// Package notification implements the ingest (C6) and status (C7) HTTP
// handlers. Ingest is a pure writer of the outbox: it never calls a
// provider. Status is a point read through the Status Cache (C8).
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/pushbox/outbox-dispatcher/internal/api/dto"
	"github.com/pushbox/outbox-dispatcher/internal/api/respond"
	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/outbox"
)

// store is the subset of the outbox store the ingest path drives.
type store interface {
	Insert(ctx context.Context, notif model.NotificationMessage) error
	GetByIdempotencyKey(ctx context.Context, key string) (*model.NotificationMessage, error)
}

// statusReader resolves a row by id for the status endpoint; satisfied
// by the Status Cache (C8), which degrades to the outbox store on miss.
type statusReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*model.NotificationMessage, error)
}

// Handler implements the ingest and status HTTP surface (C6, C7).
type Handler struct {
	store      store
	status     statusReader
	validator  *validator.Validate
	maxRetries int
}

// NewHandler builds a Handler. defaultMaxRetries seeds MaxRetries on
// rows whose request omits it.
func NewHandler(s store, status statusReader, v *validator.Validate, defaultMaxRetries int) *Handler {
	return &Handler{store: s, status: status, validator: v, maxRetries: defaultMaxRetries}
}

// Create implements the ingest contract (spec §4.6): validate, enforce
// idempotency, insert a Pending row. Never calls a provider.
func (h *Handler) Create(c *ginext.Context) {
	var req dto.CreateRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("ingest: failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("ingest: validation failed")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	if err := validateLengths(req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, err)
		return
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	ctx := c.Request.Context()

	if existing, err := h.store.GetByIdempotencyKey(ctx, idempotencyKey); err == nil {
		zlog.Logger.Info().Str("idempotencyKey", idempotencyKey).Str("id", existing.ID.String()).
			Msg("ingest: idempotency key already exists, returning existing row")
		respond.Conflict(c.Writer, dto.CreateResponse{
			ID:      existing.ID.String(),
			Status:  string(existing.Status),
			Message: "notification with this idempotency key already exists",
		})
		return
	} else if !errors.Is(err, outbox.ErrNotFound) {
		zlog.Logger.Error().Err(err).Msg("ingest: idempotency lookup failed")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	data, err := outbox.EncodeData(req.Data)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("ingest: failed to encode data")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid data payload"))
		return
	}

	priority := model.Priority(req.Priority)
	if priority == "" {
		priority = model.PriorityNormal
	}

	maxRetries := h.maxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	now := time.Now().UTC()
	notif := model.NotificationMessage{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		TargetPlatform: req.TargetPlatform,
		DeviceToken:    req.DeviceToken,
		Title:          req.Title,
		Body:           req.Body,
		Data:           data,
		Tags:           strings.Join(req.Tags, ","),
		Priority:       priority,
		Status:         model.StatusPending,
		RetryCount:     0,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
		ScheduledFor:   req.ScheduledFor,
	}

	if err := h.store.Insert(ctx, notif); err != nil {
		if errors.Is(err, outbox.ErrConflict) {
			// Lost a race against a concurrent insert with the same key
			// between our lookup and this insert; re-resolve and report
			// it the same way a pre-existing key would be reported.
			existing, getErr := h.store.GetByIdempotencyKey(ctx, idempotencyKey)
			if getErr == nil {
				respond.Conflict(c.Writer, dto.CreateResponse{
					ID:      existing.ID.String(),
					Status:  string(existing.Status),
					Message: "notification with this idempotency key already exists",
				})
				return
			}
		}

		zlog.Logger.Error().Err(err).Msg("ingest: insert failed")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Accepted(c.Writer, dto.CreateResponse{
		ID:      notif.ID.String(),
		Status:  string(notif.Status),
		Message: "notification accepted",
	})
}

// GetStatus implements the status endpoint contract (spec §4.7).
func (h *Handler) GetStatus(c *ginext.Context) {
	idStr := c.Param("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	notif, err := h.status.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("id", idStr).Msg("status: lookup failed")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, dto.StatusResponse{
		ID:             notif.ID.String(),
		Status:         string(notif.Status),
		TargetPlatform: notif.TargetPlatform,
		RetryCount:     notif.RetryCount,
		CreatedAt:      notif.CreatedAt,
		SentAt:         notif.SentAt,
		ErrorMessage:   notif.LastError,
	})
}

func validateLengths(req dto.CreateRequest) error {
	switch {
	case len(req.IdempotencyKey) > model.MaxIdempotencyKeyLen:
		return fmt.Errorf("idempotencyKey exceeds %d characters", model.MaxIdempotencyKeyLen)
	case len(req.TargetPlatform) > model.MaxTargetPlatformLen:
		return fmt.Errorf("targetPlatform exceeds %d characters", model.MaxTargetPlatformLen)
	case len(req.DeviceToken) > model.MaxDeviceTokenLen:
		return fmt.Errorf("deviceToken exceeds %d characters", model.MaxDeviceTokenLen)
	case len(req.Title) > model.MaxTitleLen:
		return fmt.Errorf("title exceeds %d characters", model.MaxTitleLen)
	case len(req.Body) > model.MaxBodyLen:
		return fmt.Errorf("body exceeds %d characters", model.MaxBodyLen)
	default:
		return nil
	}
}
