package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
	"github.com/dmitrijs2005/bhopmaps/internal/server/services"
)

type UserHandler struct {
	users      UserService
	maps       MapService
	sessionTTL time.Duration
}

func NewUserHandler(users UserService, maps MapService, sessionTTL time.Duration) *UserHandler {
	return &UserHandler{users: users, maps: maps, sessionTTL: sessionTTL}
}

type registerRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
	Avatar   string `json:"avatar" form:"avatar" validate:"omitempty,url"`
}

type loginRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
}

type editRequest struct {
	Username string `json:"username" form:"username" validate:"required_without=Avatar"`
	Avatar   string `json:"avatar" form:"avatar" validate:"omitempty,url"`
}

type loginResponse struct {
	Message string       `json:"message"`
	Token   string       `json:"token"`
	User    *models.User `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Register handles POST /api/register.
func (h *UserHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.users.Register(c.Request().Context(), req.Username, req.Password, req.Avatar)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, user)
}

// Login handles POST /api/login and sets the session cookie.
func (h *UserHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	token, user, err := h.users.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return err
	}

	setSessionCookie(c, token, h.sessionTTL)
	return c.JSON(http.StatusOK, loginResponse{Message: "success", Token: token, User: user})
}

// Logout handles POST /api/logout.
func (h *UserHandler) Logout(c echo.Context) error {
	clearSessionCookie(c)
	return c.JSON(http.StatusOK, messageResponse{Message: "success"})
}

// Current handles GET /api/user.
func (h *UserHandler) Current(c echo.Context) error {
	user, err := h.users.CurrentUser(c.Request().Context(), sessionToken(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// ByUsername handles GET /api/user/:username.
func (h *UserHandler) ByUsername(c echo.Context) error {
	user, err := h.users.GetByUsername(c.Request().Context(), c.Param("username"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// Edit handles PUT /api/user/edit.
func (h *UserHandler) Edit(c echo.Context) error {
	var req editRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.maps.UpdateProfile(c.Request().Context(), sessionToken(c), services.ProfileUpdate{
		UserName: req.Username,
		Avatar:   req.Avatar,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// Delete handles DELETE /api/user/delete.
func (h *UserHandler) Delete(c echo.Context) error {
	if err := h.maps.DeleteAccount(c.Request().Context(), sessionToken(c)); err != nil {
		return err
	}
	clearSessionCookie(c)
	return c.JSON(http.StatusOK, messageResponse{Message: "success"})
}
