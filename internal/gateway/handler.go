package gateway

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/bizmatters/agent-builder/site-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/site-orchestrator/internal/store"
)

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	store      store.Store
	jwtManager *auth.JWTManager
	pool       *pgxpool.Pool
}

// NewHandler creates a new gateway handler
func NewHandler(st store.Store, jwtManager *auth.JWTManager, pool *pgxpool.Pool) *Handler {
	return &Handler{
		store:      st,
		jwtManager: jwtManager,
		pool:       pool,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeValidationFailed})
		return
	}

	var userID string
	var hashedPassword string
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&userID, &hashedPassword)
	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		userID,
		req.Email,
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:  token,
		UserID: userID,
	})
}

// GetCurrentUser godoc
// @Summary Get current user
// @Description Return the authenticated user's profile
// @Tags auth
// @Produce json
// @Success 200 {object} models.UserInfo
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /me [get]
func (h *Handler) GetCurrentUser(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: models.ErrCodeUnauthorized})
		return
	}

	var user models.User
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, name, email, created_at FROM users WHERE id = $1`,
		claims.UserID,
	).Scan(&user.ID, &user.Name, &user.Email, &user.CreatedAt)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "User not found", Code: models.ErrCodeNotFound})
		return
	}

	c.JSON(http.StatusOK, user.ToUserInfo())
}

// CreateProjectRequest represents a project creation request
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateProject godoc
// @Summary Create project
// @Description Create a new project owned by the authenticated user
// @Tags projects
// @Accept json
// @Produce json
// @Param request body CreateProjectRequest true "Project details"
// @Success 201 {object} models.Project
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects [post]
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeValidationFailed})
		return
	}

	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "User not authenticated", Code: models.ErrCodeUnauthorized})
		return
	}

	project, err := h.store.CreateProject(c.Request.Context(), req.Name, req.Description, claims.UserID)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to create project","error":"%v","user_id":"%s"}`, err, claims.UserID)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create project", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusCreated, project)
}

// GetProject godoc
// @Summary Get project
// @Description Retrieve a project by id
// @Tags projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} models.Project
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id} [get]
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.store.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Project not found", Code: models.ErrCodeProjectNotFound})
		return
	}
	c.JSON(http.StatusOK, project)
}

// GetActiveJob godoc
// @Summary Get active generation job
// @Description Retrieve the currently running generation job for a project, including its planned units
// @Tags projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} models.Job
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/generation [get]
func (h *Handler) GetActiveJob(c *gin.Context) {
	job, err := h.store.GetActiveJobByProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "No active generation job", Code: models.ErrCodeNotFound})
		return
	}
	c.JSON(http.StatusOK, job)
}

// SnapshotResponse carries the catch-up state for observers that join a
// project after generation has started
type SnapshotResponse struct {
	Job       *models.Job       `json:"job,omitempty"`
	Artifacts []models.Artifact `json:"artifacts"`
	Assembled string            `json:"assembled,omitempty"`
}

// GetSnapshot godoc
// @Summary Get project snapshot
// @Description Retrieve the latest job state and produced artifacts so a late-joining observer can catch up before live events resume
// @Tags projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} SnapshotResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/snapshot [get]
func (h *Handler) GetSnapshot(c *gin.Context) {
	projectID := c.Param("id")

	if _, err := h.store.GetProject(c.Request.Context(), projectID); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Project not found", Code: models.ErrCodeProjectNotFound})
		return
	}

	resp := SnapshotResponse{Artifacts: []models.Artifact{}}

	if job, err := h.store.GetActiveJobByProject(c.Request.Context(), projectID); err == nil {
		resp.Job = job
		if artifacts, err := h.store.ListArtifacts(c.Request.Context(), job.ID); err == nil {
			resp.Artifacts = artifacts
		}
	}

	if assembled, err := h.store.GetLatestArtifact(c.Request.Context(), projectID, models.AssembledArtifactName); err == nil {
		resp.Assembled = assembled.Content
	}

	c.JSON(http.StatusOK, resp)
}
