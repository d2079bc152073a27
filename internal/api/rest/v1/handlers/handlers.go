// Package handlers provides API endpoint handling functionality.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	handlersErrors "github.com/danilovkiri/dk-go-nowserving/internal/api/rest/v1/errors"
	"github.com/danilovkiri/dk-go-nowserving/internal/api/rest/v1/middleware"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1"
	serviceErrors "github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1/errors"
	storageErrors "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/errors"
	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
)

const (
	requestTimeout = 500 * time.Millisecond
	sweepTimeout   = 30 * time.Second
)

// Handler defines attributes of a struct available to its methods.
type Handler struct {
	service dispatcher.Dispatcher
	log     *zerolog.Logger
}

// InitHandlers initializes a handler object.
func InitHandlers(mainService dispatcher.Dispatcher, log *zerolog.Logger) (*Handler, error) {
	if mainService == nil {
		return nil, &handlersErrors.HandlersFoundNilArgument{Msg: "nil dispatcher was passed to handlers initializer"}
	}
	return &Handler{service: mainService, log: log}, nil
}

// statusOf maps an error to an HTTP status and a stable status string.
func statusOf(err error) (int, string) {
	var validationError *serviceErrors.ValidationError
	var permissionError *serviceErrors.PermissionError
	var notFoundError *serviceErrors.NotFoundError
	var conflictError *serviceErrors.ConflictError
	var transientStoreError *serviceErrors.TransientStoreError
	var contextTimeoutExceededError *storageErrors.ContextTimeoutExceededError
	switch {
	case errors.As(err, &validationError):
		return http.StatusBadRequest, validationError.Code
	case errors.As(err, &permissionError):
		if permissionError.Code == serviceErrors.CodeUnauthenticated {
			return http.StatusUnauthorized, permissionError.Code
		}
		return http.StatusForbidden, permissionError.Code
	case errors.As(err, &notFoundError):
		return http.StatusNotFound, notFoundError.Code
	case errors.As(err, &conflictError):
		if conflictError.Code == serviceErrors.CodeRateLimited {
			return http.StatusTooManyRequests, conflictError.Code
		}
		return http.StatusConflict, conflictError.Code
	case errors.As(err, &transientStoreError):
		return http.StatusServiceUnavailable, serviceErrors.CodeStoreConflict
	case errors.As(err, &contextTimeoutExceededError), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.log.Error().Err(err).Msg(fmt.Sprintf("%s failed", op))
	code, status := statusOf(err)
	writeJSON(w, code, modeldto.ErrorBody{Error: modeldto.ErrorDetail{Message: err.Error(), Status: status}})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request, op string) (modelqueue.Identity, bool) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, op, &serviceErrors.PermissionError{Code: serviceErrors.CodeUnauthenticated, Msg: "not logged in"})
		return modelqueue.Identity{}, false
	}
	return identity, true
}

// decode reads an optional JSON body into dst; an empty body leaves dst untouched.
func decode(r *http.Request, dst interface{}) error {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return &serviceErrors.ValidationError{Code: serviceErrors.CodeInvalidArgument, Msg: err.Error()}
	}
	return nil
}

// HandleGetRole returns the role of the caller.
func (h *Handler) HandleGetRole() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := h.identity(w, r, "HandleGetRole")
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, modeldto.Role{Role: h.service.GetRole(identity)})
	}
}

// HandleCreateQueue provisions a queue.
func (h *Handler) HandleCreateQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		identity, ok := h.identity(w, r, "HandleCreateQueue")
		if !ok {
			return
		}
		var newQueue modeldto.NewQueue
		if err := decode(r, &newQueue); err != nil {
			h.writeError(w, "HandleCreateQueue", err)
			return
		}
		queue, err := h.service.CreateQueue(ctx, identity, newQueue)
		if err != nil {
			h.writeError(w, "HandleCreateQueue", err)
			return
		}
		writeJSON(w, http.StatusCreated, modeldto.Created{Success: true, ID: queue.ID})
	}
}

// HandleQueueStatus returns the serving slot, waiting entries and retired records of a queue.
func (h *Handler) HandleQueueStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		status, err := h.service.QueueStatus(ctx, chi.URLParam(r, "queueID"))
		if err != nil {
			h.writeError(w, "HandleQueueStatus", err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// HandleAdmit admits the caller to a queue.
func (h *Handler) HandleAdmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		queueID := chi.URLParam(r, "queueID")
		entry, err := h.service.Admit(ctx, queueID, middleware.CredentialFrom(r.Context()))
		if err != nil {
			h.writeError(w, "HandleAdmit", err)
			return
		}
		h.log.Info().Msg(fmt.Sprintf("entry %s booked in queue %s", entry.ID, queueID))
		writeJSON(w, http.StatusOK, modeldto.Admitted{Success: true, TokenID: entry.ID, Priority: entry.Priority})
	}
}

// HandleCallNext promotes the next waiting entry.
func (h *Handler) HandleCallNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		identity, ok := h.identity(w, r, "HandleCallNext")
		if !ok {
			return
		}
		result, err := h.service.CallNext(ctx, chi.URLParam(r, "queueID"), identity.Email)
		if err != nil {
			h.writeError(w, "HandleCallNext", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleClearCurrent completes service of the current entry.
func (h *Handler) HandleClearCurrent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		identity, ok := h.identity(w, r, "HandleClearCurrent")
		if !ok {
			return
		}
		if _, err := h.service.ClearCurrent(ctx, chi.URLParam(r, "queueID"), identity.Email); err != nil {
			h.writeError(w, "HandleClearCurrent", err)
			return
		}
		writeJSON(w, http.StatusOK, modeldto.Success{Success: true})
	}
}

// HandleMarkNoShow strikes a waiting entry or the current entry.
func (h *Handler) HandleMarkNoShow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		identity, ok := h.identity(w, r, "HandleMarkNoShow")
		if !ok {
			return
		}
		var noShow modeldto.NoShow
		if err := decode(r, &noShow); err != nil {
			h.writeError(w, "HandleMarkNoShow", err)
			return
		}
		result, err := h.service.MarkNoShow(ctx, chi.URLParam(r, "queueID"), identity.Email, noShow.TokenID, noShow.Reason)
		if err != nil {
			h.writeError(w, "HandleMarkNoShow", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleProcessNoShows runs the expiry check for one queue on behalf of its operator.
func (h *Handler) HandleProcessNoShows() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		identity, ok := h.identity(w, r, "HandleProcessNoShows")
		if !ok {
			return
		}
		result, err := h.service.ProcessNoShows(ctx, chi.URLParam(r, "queueID"), identity.Email)
		if err != nil {
			h.writeError(w, "HandleProcessNoShows", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleSweepAll runs the expiry check over all queues. Admins only.
func (h *Handler) HandleSweepAll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), sweepTimeout)
		defer cancel()
		identity, ok := h.identity(w, r, "HandleSweepAll")
		if !ok {
			return
		}
		if identity.Role != modelqueue.RoleAdmin {
			h.writeError(w, "HandleSweepAll", &serviceErrors.PermissionError{Code: serviceErrors.CodeNotAdmin, Msg: "admin role required"})
			return
		}
		outcomes, err := h.service.SweepAll(ctx)
		if err != nil {
			h.writeError(w, "HandleSweepAll", err)
			return
		}
		writeJSON(w, http.StatusOK, outcomes)
	}
}
