package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sms-auth-service/internal/service"
	"sms-auth-service/internal/util"
)

// AuthHandler exposes the authentication flows over HTTP. The wire
// contract is Spanish: field names, route names and messages match what
// the mobile client expects.
type AuthHandler struct {
	auth  *service.AuthService
	guard *AccessGuard
}

func NewAuthHandler(auth *service.AuthService, guard *AccessGuard) *AuthHandler {
	return &AuthHandler{
		auth:  auth,
		guard: guard,
	}
}

// Response is the envelope every endpoint returns.
type Response struct {
	Exito   bool         `json:"exito"`
	Mensaje string       `json:"mensaje"`
	Datos   interface{}  `json:"datos"`
	Codigo  string       `json:"codigo,omitempty"`
	Errores []FieldError `json:"errores,omitempty"`
}

type FieldError struct {
	Campo   string `json:"campo"`
	Mensaje string `json:"mensaje"`
}

type registerRequest struct {
	Telefono string `json:"telefono"`
}

type verifyRequest struct {
	Telefono string `json:"telefono"`
	Codigo   string `json:"codigo"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type masterRequest struct {
	Codigo string `json:"codigo"`
}

type userPayload struct {
	ID       string `json:"id"`
	Telefono string `json:"telefono"`
	Rol      string `json:"rol,omitempty"`
}

type tokenPayload struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	Usuario      *userPayload `json:"usuario,omitempty"`
}

// RegisterRoutes mounts the public auth endpoints and the guarded ones.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/registro", h.Register)
	router.Post("/verificar", h.Verify)
	router.Post("/login", h.Login)
	router.Post("/refresh", h.Refresh)
	router.Post("/acceso-maestro", h.MasterAccess)

	router.Group(func(r chi.Router) {
		r.Use(h.guard.Authenticate)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.guard.RequireAdmin)
			r.Get("/admin/test", h.AdminTest)
		})
	})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Cuerpo de la peticion invalido", nil)
		return
	}
	if fields := validatePhone(req.Telefono); len(fields) > 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Datos invalidos", fields)
		return
	}

	if err := h.auth.Register(r.Context(), req.Telefono, clientIP(r)); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Codigo de verificacion enviado", nil)
}

func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Cuerpo de la peticion invalido", nil)
		return
	}
	if fields := validatePhoneAndCode(req.Telefono, req.Codigo); len(fields) > 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Datos invalidos", fields)
		return
	}

	if err := h.auth.Verify(r.Context(), req.Telefono, req.Codigo, clientIP(r)); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Numero verificado", nil)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Cuerpo de la peticion invalido", nil)
		return
	}
	if fields := validatePhoneAndCode(req.Telefono, req.Codigo); len(fields) > 0 {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Datos invalidos", fields)
		return
	}

	pair, err := h.auth.Login(r.Context(), req.Telefono, req.Codigo, clientIP(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Sesion iniciada", tokenPayload{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Usuario: &userPayload{
			ID:       pair.User.UserID,
			Telefono: pair.User.Phone,
		},
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Cuerpo de la peticion invalido", nil)
		return
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Datos invalidos", []FieldError{
			{Campo: "refreshToken", Mensaje: "El refresh token es obligatorio"},
		})
		return
	}

	pair, err := h.auth.RefreshAccess(r.Context(), req.RefreshToken, clientIP(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Tokens renovados", tokenPayload{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *AuthHandler) MasterAccess(w http.ResponseWriter, r *http.Request) {
	var req masterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Cuerpo de la peticion invalido", nil)
		return
	}
	if req.Codigo == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Datos invalidos", []FieldError{
			{Campo: "codigo", Mensaje: "El codigo es obligatorio"},
		})
		return
	}

	pair, err := h.auth.MasterAccess(r.Context(), req.Codigo, clientIP(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Acceso maestro concedido", tokenPayload{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Usuario: &userPayload{
			ID:       pair.User.UserID,
			Telefono: pair.User.Phone,
			Rol:      string(pair.User.Role),
		},
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := IdentityFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "No autenticado", nil)
		return
	}

	if err := h.auth.Logout(r.Context(), user.UserID, clientIP(r)); err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondSuccess(w, http.StatusOK, "Sesion cerrada", nil)
}

func (h *AuthHandler) AdminTest(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, "Acceso de administrador confirmado", nil)
}

func (h *AuthHandler) respondServiceError(w http.ResponseWriter, err error) {
	code, status := classifyError(err)
	if status == http.StatusInternalServerError {
		util.Error("auth flow failed", zap.Error(err))
	}

	respondError(w, status, code, errorMessage(code), nil)
}

// classifyError maps service sentinels to the wire error code and HTTP
// status. Anything unknown collapses to INTERNAL_ERROR.
func classifyError(err error) (string, int) {
	switch {
	case errors.Is(err, service.ErrInvalidPhone):
		return "VALIDATION_ERROR", http.StatusBadRequest
	case errors.Is(err, service.ErrCodeInvalidOrExpired):
		return "CODE_INVALID_OR_EXPIRED", http.StatusBadRequest
	case errors.Is(err, service.ErrCodeInvalid):
		return "CODE_INVALID", http.StatusUnauthorized
	case errors.Is(err, service.ErrRefreshTokenInvalid):
		return "REFRESH_TOKEN_INVALID", http.StatusUnauthorized
	case errors.Is(err, service.ErrMasterCodeInvalid):
		return "MASTER_CODE_INVALID", http.StatusUnauthorized
	case errors.Is(err, service.ErrUserNotFound):
		return "USER_NOT_FOUND", http.StatusNotFound
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

func errorMessage(code string) string {
	switch code {
	case "VALIDATION_ERROR":
		return "Datos invalidos"
	case "CODE_INVALID_OR_EXPIRED":
		return "Codigo invalido o expirado"
	case "CODE_INVALID":
		return "Codigo invalido"
	case "REFRESH_TOKEN_INVALID":
		return "Refresh token invalido"
	case "MASTER_CODE_INVALID":
		return "Codigo maestro invalido"
	case "USER_NOT_FOUND":
		return "Usuario no encontrado"
	default:
		return "Error interno"
	}
}

func validatePhone(phone string) []FieldError {
	var fields []FieldError
	if phone == "" {
		fields = append(fields, FieldError{Campo: "telefono", Mensaje: "El telefono es obligatorio"})
	} else if _, err := util.NormalizePhone(phone); err != nil {
		fields = append(fields, FieldError{Campo: "telefono", Mensaje: "El telefono no tiene un formato valido"})
	}
	return fields
}

func validatePhoneAndCode(phone, code string) []FieldError {
	fields := validatePhone(phone)
	if code == "" {
		fields = append(fields, FieldError{Campo: "codigo", Mensaje: "El codigo es obligatorio"})
	} else if !util.IsNumericCode(code, 6) {
		fields = append(fields, FieldError{Campo: "codigo", Mensaje: "El codigo debe tener 6 digitos"})
	}
	return fields
}

func clientIP(r *http.Request) string {
	return r.RemoteAddr
}

func respondSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	respondJSON(w, status, Response{
		Exito:   true,
		Mensaje: message,
		Datos:   data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string, fields []FieldError) {
	respondJSON(w, status, Response{
		Exito:   false,
		Mensaje: message,
		Codigo:  code,
		Errores: fields,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("failed to encode response", zap.Error(err))
	}
}
