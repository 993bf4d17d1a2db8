// Auth HTTP handlers.
//
//   - POST /auth/register   (create a Support user)
//   - POST /auth/login      (exchange credentials for a bearer token)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-query-desk/internal/domain"
	"github.com/tbourn/go-query-desk/internal/services"
)

// RegisterRequest is the sign-up payload. Public registration always yields
// the default role. The password bound matches what bcrypt accepts.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required" example:"Jane Agent"`
	Email    string `json:"email" binding:"required,email" example:"jane@example.com"`
	Password string `json:"password" binding:"required,min=6,max=72" example:"s3cret!"`
}

// LoginRequest carries credentials.
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"jane@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret!"`
}

// RegisterResponse confirms a registration.
type RegisterResponse struct {
	Message string       `json:"msg" example:"User registered successfully."`
	User    *domain.User `json:"user"`
}

// Register godoc
// @ID          register
// @Summary     Register a user
// @Description Creates a Support user. Emails are unique, case-insensitively.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.RegisterRequest  true  "Registration payload"
// @Success     201  {object} handlers.RegisterResponse
// @Failure     400  {object} handlers.ErrorResponse "Invalid input or user exists"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name, a valid email and a 6 to 72 character password are required")
		return
	}

	u, err := h.auth.Register(c.Request.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	switch {
	case err == nil:
		ok(c, http.StatusCreated, RegisterResponse{Message: "User registered successfully.", User: u})
	case errors.Is(err, services.ErrUserExists):
		fail(c, http.StatusBadRequest, ErrCodeUserExists, "User already exists")
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		failInternal(c, ErrCodeRegisterFailed, err)
	}
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Verifies credentials and returns a signed bearer token. Send it as "Authorization: Bearer <token>" (or x-auth-token).
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
// @Success     200  {object} services.Session
// @Failure     400  {object} handlers.ErrorResponse "Invalid credentials"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password required")
		return
	}

	sess, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		ok(c, http.StatusOK, sess)
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusBadRequest, ErrCodeInvalidCredentials, "Invalid Credentials")
	default:
		failInternal(c, ErrCodeLoginFailed, err)
	}
}
