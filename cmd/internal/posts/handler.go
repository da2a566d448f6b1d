package posts

import (
	"errors"
	"log/slog"
	"net/http"

	authapi "instant/cmd/internal/auth/api"
	"instant/cmd/internal/errlog"
	"instant/cmd/internal/httpx"
)

type textRequest struct {
	Text string `json:"text"`
}

type postResponse struct {
	PostID   string `json:"postId"`
	Text     string `json:"text"`
	OwnerID  string `json:"ownerId"`
	Username string `json:"username"`
}

func toResponse(v View) postResponse {
	return postResponse{PostID: v.ID, Text: v.Text, OwnerID: v.OwnerID, Username: v.Username}
}

// Handler serves /post. Reads are public; writes go through gate.
type Handler struct {
	log          *slog.Logger
	svc          *Service
	gate         func(http.Handler) http.Handler
	maxBodyBytes int64
}

// NewHandler builds a Handler. gate wraps the mutating routes, normally
// authapi.Handler.Gate.
func NewHandler(log *slog.Logger, svc *Service, gate func(http.Handler) http.Handler, maxBodyBytes int64) (*Handler, error) {
	if svc == nil || gate == nil {
		return nil, errors.New("posts: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, svc: svc, gate: gate, maxBodyBytes: maxBodyBytes}, nil
}

// Register wires the post routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /post", h.handleList)
	mux.HandleFunc("GET /post/{id}", h.handleGet)
	mux.Handle("POST /post", h.gate(http.HandlerFunc(h.handleCreate)))
	mux.Handle("PUT /post/{id}", h.gate(http.HandlerFunc(h.handleUpdate)))
	mux.Handle("DELETE /post/{id}", h.gate(http.HandlerFunc(h.handleDelete)))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]postResponse, 0, len(list))
	for _, v := range list {
		out = append(out, toResponse(v))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(v))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, _ := authapi.SubjectFrom(r.Context())
	var req textRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.svc.Create(r.Context(), owner, req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(v))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, _ := authapi.SubjectFrom(r.Context())
	var req textRequest
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.svc.Update(r.Context(), owner, r.PathValue("id"), req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(v))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, _ := authapi.SubjectFrom(r.Context())
	if err := h.svc.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteOK(w)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := httpx.DecodeJSON(w, r, h.maxBodyBytes, dst)
	if err == nil || errors.Is(err, httpx.ErrEmptyBody) {
		return true
	}
	httpx.WriteError(w, http.StatusBadRequest, httpx.MsgInvalidBody)
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingText), errors.Is(err, ErrTextTooLong), errors.Is(err, ErrUnknownOwner):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotOwner):
		httpx.WriteError(w, http.StatusForbidden, err.Error())
	default:
		errlog.LogError(h.log, "posts.request.fail", err)
		httpx.WriteError(w, http.StatusInternalServerError, "request failed please try again later")
	}
}
