package http

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mediatube/internal/domain"
	"mediatube/internal/repository"
	"mediatube/internal/service"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	users   service.UserService
	tokens  service.TokenService
	tempDir string
}

func NewHandler(users service.UserService, tokens service.TokenService, tempDir string) *Handler {
	return &Handler{
		users:   users,
		tokens:  tokens,
		tempDir: tempDir,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	api := router.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	users := api.Group("/users")
	{
		users.POST("/register", h.register)
		users.POST("/login", h.login)
		users.POST("/refresh-token", h.refreshToken)

		authed := users.Group("", requireAuth(h.tokens))
		{
			authed.POST("/logout", h.logout)
			authed.POST("/change-password", h.changePassword)
			authed.GET("/current-user", h.currentUser)
			authed.PATCH("/update-account", h.updateAccount)
			authed.PATCH("/avatar", h.updateAvatar)
			authed.PATCH("/cover-image", h.updateCoverImage)
		}
	}
}

// apiResponse is the uniform success envelope.
type apiResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// apiError is the uniform failure envelope.
type apiError struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, apiResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    true,
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, apiError{
		StatusCode: status,
		Message:    message,
		Success:    false,
		Errors:     []string{},
	})
}

func fail(c *gin.Context, err error) {
	status, message := mapError(err)
	respondError(c, status, message)
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrAllFieldsRequired):
		return http.StatusBadRequest, "All fields are required"
	case errors.Is(err, service.ErrAvatarRequired):
		return http.StatusBadRequest, "Avatar file is required"
	case errors.Is(err, service.ErrIdentifierRequired):
		return http.StatusBadRequest, "Username or email is required"
	case errors.Is(err, service.ErrDetailsRequired):
		return http.StatusBadRequest, "Fullname and email are required"
	case errors.Is(err, service.ErrFileRequired):
		return http.StatusBadRequest, "File is required"
	case errors.Is(err, service.ErrOldPasswordIncorrect):
		return http.StatusBadRequest, "Invalid old password"
	case errors.Is(err, service.ErrPasswordIncorrect):
		return http.StatusUnauthorized, "Password incorrect"
	case errors.Is(err, service.ErrRefreshTokenMissing):
		return http.StatusUnauthorized, "Unauthorized request"
	case errors.Is(err, service.ErrRefreshTokenUsed):
		return http.StatusUnauthorized, "Refresh token is expired or used"
	case errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid token"
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "User does not exist"
	case errors.Is(err, service.ErrUserExists):
		return http.StatusConflict, "User with email or username already exists"
	default:
		return http.StatusInternalServerError, "Something went wrong"
	}
}

// UserResponse is the sanitized user shape sent to clients. It never
// carries the password hash or refresh token.
type UserResponse struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	FullName   string `json:"fullname"`
	Avatar     string `json:"avatar"`
	CoverImage string `json:"coverImage"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:         user.ID,
		Username:   user.Username,
		Email:      user.Email,
		FullName:   user.FullName,
		Avatar:     user.AvatarURL,
		CoverImage: user.CoverImageURL,
		CreatedAt:  user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  user.UpdatedAt.Format(time.RFC3339),
	}
}

func setAuthCookies(c *gin.Context, accessToken, refreshToken string) {
	c.SetCookie("accessToken", accessToken, 0, "/", "", true, true)
	c.SetCookie("refreshToken", refreshToken, 0, "/", "", true, true)
}

func clearAuthCookies(c *gin.Context) {
	c.SetCookie("accessToken", "", -1, "/", "", true, true)
	c.SetCookie("refreshToken", "", -1, "/", "", true, true)
}

// stageUpload copies a multipart file into the staging directory and
// returns its local path. Callers remove the file when done.
func (h *Handler) stageUpload(c *gin.Context, field string) (string, error) {
	file, err := c.FormFile(field)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(h.tempDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(h.tempDir, uuid.NewString()+filepath.Ext(file.Filename))
	if err := c.SaveUploadedFile(file, path); err != nil {
		return "", err
	}
	return path, nil
}

func removeStaged(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

func (h *Handler) register(c *gin.Context) {
	in := service.RegisterInput{
		FullName: c.PostForm("fullname"),
		Email:    c.PostForm("email"),
		Username: c.PostForm("username"),
		Password: c.PostForm("password"),
	}

	if path, err := h.stageUpload(c, "avatar"); err == nil {
		in.AvatarPath = path
		defer removeStaged(path)
	}
	if path, err := h.stageUpload(c, "coverImage"); err == nil {
		in.CoverImagePath = path
		defer removeStaged(path)
	}

	user, err := h.users.Register(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusCreated, userToResponse(user), "User registered successfully")
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, access, refresh, err := h.users.Login(c.Request.Context(), service.LoginInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		fail(c, err)
		return
	}

	setAuthCookies(c, access, refresh)
	respond(c, http.StatusOK, loginResponse{
		User:         userToResponse(user),
		AccessToken:  access,
		RefreshToken: refresh,
	}, "User logged in successfully")
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.users.Logout(c.Request.Context(), currentUserID(c)); err != nil {
		fail(c, err)
		return
	}

	clearAuthCookies(c)
	respond(c, http.StatusOK, gin.H{}, "User logged out successfully")
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) refreshToken(c *gin.Context) {
	incoming, _ := c.Cookie("refreshToken")
	if incoming == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			incoming = req.RefreshToken
		}
	}

	access, refresh, err := h.users.RefreshTokens(c.Request.Context(), incoming)
	if err != nil {
		fail(c, err)
		return
	}

	setAuthCookies(c, access, refresh)
	respond(c, http.StatusOK, tokenPairResponse{
		AccessToken:  access,
		RefreshToken: refresh,
	}, "Access token refreshed")
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func (h *Handler) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Old and new password are required")
		return
	}

	if err := h.users.ChangePassword(c.Request.Context(), currentUserID(c), req.OldPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{}, "Password changed successfully")
}

func (h *Handler) currentUser(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, userToResponse(user), "Current user fetched successfully")
}

type updateAccountRequest struct {
	FullName string `json:"fullname"`
	Email    string `json:"email"`
}

func (h *Handler) updateAccount(c *gin.Context) {
	var req updateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.users.UpdateDetails(c.Request.Context(), currentUserID(c), req.FullName, req.Email)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, userToResponse(user), "Account details updated successfully")
}

func (h *Handler) updateAvatar(c *gin.Context) {
	path, err := h.stageUpload(c, "avatar")
	if err != nil {
		respondError(c, http.StatusBadRequest, "File is required")
		return
	}
	defer removeStaged(path)

	user, err := h.users.UpdateAvatar(c.Request.Context(), currentUserID(c), path)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, userToResponse(user), "Avatar updated successfully")
}

func (h *Handler) updateCoverImage(c *gin.Context) {
	path, err := h.stageUpload(c, "coverImage")
	if err != nil {
		respondError(c, http.StatusBadRequest, "File is required")
		return
	}
	defer removeStaged(path)

	user, err := h.users.UpdateCoverImage(c.Request.Context(), currentUserID(c), path)
	if err != nil {
		fail(c, err)
		return
	}

	respond(c, http.StatusOK, userToResponse(user), "Cover image updated successfully")
}
