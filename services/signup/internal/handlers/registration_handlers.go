package handlers

import (
	"net/http"

	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/google/go-querystring/query"
)

// stepPaths maps a stage to the endpoint a client resumes from.
var stepPaths = map[domain.Stage]string{
	domain.StageEmpty:      "/register",
	domain.StageDrafted:    "/register",
	domain.StageChallenged: "/register/code",
	domain.StageVerified:   "/register/credentials",
	domain.StageCommitted:  "/login",
}

type redirectQuery struct {
	From   domain.Stage `url:"from,omitempty"`
	Reason string       `url:"reason"`
}

type outcomeResponse struct {
	Stage          domain.Stage `json:"stage"`
	Message        string       `json:"message,omitempty"`
	Next           string       `json:"next,omitempty"`
	SentTo         string       `json:"sent_to,omitempty"`
	DeliveryFailed bool         `json:"delivery_failed,omitempty"`
	UserID         int64        `json:"user_id,omitempty"`
}

type problemResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// SubmitRegistration handles the profile and payment form. It starts a
// session when the client has none.
func (h *Handlers) SubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var form domain.RegistrationForm
	if !decodeJSON(w, r, &form) {
		return
	}

	sessionID, err := h.ensureSession(w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out, err := h.registration.SubmitRegistration(r.Context(), sessionID, form)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOutcome(w, r, out)
}

// RegistrationStage reports where the current session stands.
func (h *Handlers) RegistrationStage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(r)
	if !ok {
		writeJSON(w, http.StatusOK, outcomeResponse{Stage: domain.StageEmpty, Next: stepPaths[domain.StageEmpty]})
		return
	}

	stage, err := h.registration.Stage(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Stage: stage, Next: stepPaths[stage]})
}

func (h *Handlers) ResendCode(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	out, err := h.registration.ResendCode(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOutcome(w, r, out)
}

func (h *Handlers) SubmitCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	sessionID, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	out, err := h.registration.SubmitCode(r.Context(), sessionID, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOutcome(w, r, out)
}

// SubmitCredentials finishes the registration. The session cookie is
// cleared once the account exists.
func (h *Handlers) SubmitCredentials(w http.ResponseWriter, r *http.Request) {
	var form domain.CredentialsForm
	if !decodeJSON(w, r, &form) {
		return
	}
	sessionID, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	out, err := h.registration.SubmitCredentials(r.Context(), sessionID, form)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if out.Kind == domain.OutcomeAdvanced && out.Stage == domain.StageCommitted {
		h.clearSession(w)
	}
	writeOutcome(w, r, out)
}

func (h *Handlers) Abandon(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	out, err := h.registration.Abandon(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if out.Kind != domain.OutcomeAdvanced {
		writeOutcome(w, r, out)
		return
	}
	h.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// requireSession answers with a stale outcome when the request carries no
// valid session.
func (h *Handlers) requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	if id, ok := h.sessionID(r); ok {
		return id, true
	}
	writeOutcome(w, r, domain.Outcome{
		Kind:     domain.OutcomeStale,
		Stage:    domain.StageEmpty,
		Message:  "No registration in progress",
		Redirect: domain.StageEmpty,
	})
	return "", false
}

func writeOutcome(w http.ResponseWriter, r *http.Request, out domain.Outcome) {
	switch out.Kind {
	case domain.OutcomeAdvanced:
		status := http.StatusOK
		if out.Stage == domain.StageCommitted {
			status = http.StatusCreated
		}
		writeJSON(w, status, outcomeResponse{
			Stage:          out.Stage,
			Message:        out.Message,
			Next:           stepPaths[out.Stage],
			SentTo:         out.SentTo,
			DeliveryFailed: out.DeliveryFailed,
			UserID:         out.UserID,
		})

	case domain.OutcomeValidationFailure:
		resp := problemResponse{Error: out.Message, Code: "VALIDATION_FAILED"}
		if out.Invalid != nil {
			resp.Field = out.Invalid.Field
		}
		writeJSON(w, http.StatusBadRequest, resp)

	case domain.OutcomeIncorrectCode:
		writeJSON(w, http.StatusBadRequest, problemResponse{Error: out.Message, Code: "INCORRECT_CODE"})

	case domain.OutcomeStale:
		location := redirectLocation(r, out)
		w.Header().Set("Location", location)
		writeJSON(w, http.StatusConflict, problemResponse{Error: out.Message, Code: "STALE_WORKFLOW", Redirect: location})

	default:
		logger.ErrorContext(r.Context(), "Unknown outcome kind", "kind", out.Kind)
		writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
	}
}

func redirectLocation(r *http.Request, out domain.Outcome) string {
	path, ok := stepPaths[out.Redirect]
	if !ok {
		path = stepPaths[domain.StageEmpty]
	}

	q := redirectQuery{Reason: "stale"}
	if out.Stage != out.Redirect {
		q.From = out.Stage
	}
	values, err := query.Values(q)
	if err != nil {
		logger.WarnContext(r.Context(), "Failed to encode redirect query", "error", err)
		return path
	}
	return path + "?" + values.Encode()
}
