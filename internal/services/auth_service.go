package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/marketpay/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

// AuthService is the account directory: it registers users with their role
// profile and wallet, authenticates them and resolves user identity for the
// rest of the system.
type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	store     *LedgerStore
	validator *ValidationHelper
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, store *LedgerStore) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		store:     store,
		validator: NewValidationHelper(),
	}
}

// RegisterRequest represents the registration request payload
// @Description Registration request structure
type RegisterRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=64" example:"jdoe"`
	Email       string `json:"email" validate:"required,email" example:"user@example.com"`
	Password    string `json:"password" validate:"required,min=6" example:"password123"`
	Name        string `json:"name" validate:"required,min=2,max=200" example:"John Doe"`
	Description string `json:"description" validate:"max=2000"`
	TaxID       string `json:"taxId" validate:"max=64"`
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Username string `json:"username" validate:"required" example:"jdoe"`
	Password string `json:"password" validate:"required,min=6" example:"password123"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token string      `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	User  models.User `json:"user"`
}

// RegisterCustomer registers a customer account
// @Summary Register customer
// @Description Register a new customer with profile and wallet
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register [post]
func (s *AuthService) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	s.register(w, r, models.RoleCustomer)
}

// RegisterMerchant registers a merchant account
// @Summary Register merchant
// @Description Register a new merchant with profile and wallet
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/register-merchant [post]
func (s *AuthService) RegisterMerchant(w http.ResponseWriter, r *http.Request) {
	s.register(w, r, models.RoleMerchant)
}

func (s *AuthService) register(w http.ResponseWriter, r *http.Request, role string) {
	var req RegisterRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "auth",
			"username":  req.Username,
			"error":     err.Error(),
		}).Error("Password hashing failed")
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	user := models.User{
		Username: strings.ToLower(req.Username),
		Email:    strings.ToLower(req.Email),
		Role:     role,
	}
	err = tx.QueryRow(`
		INSERT INTO users (username, email, password, role, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at`,
		user.Username, user.Email, hashedPassword, user.Role).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			SendServiceError(w, ErrUserExists)
			return
		}
		logrus.WithFields(logrus.Fields{
			"component": "auth",
			"username":  req.Username,
			"error":     err.Error(),
		}).Error("User creation failed")
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	profileTable := "customers"
	if role == models.RoleMerchant {
		profileTable = "merchants"
	}
	_, err = tx.Exec(fmt.Sprintf(`
		INSERT INTO %s (user_id, name, description, tax_id)
		VALUES ($1, $2, $3, $4)`, profileTable),
		user.ID, req.Name, req.Description, req.TaxID)
	if err != nil {
		SendErrorResponse(w, "Failed to create profile", http.StatusInternalServerError, nil)
		return
	}

	if _, err := s.store.CreateWalletTx(tx, user.ID, decimal.Zero); err != nil {
		SendErrorResponse(w, "Failed to create wallet", http.StatusInternalServerError, nil)
		return
	}

	if err = tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	logrus.WithFields(logrus.Fields{
		"component": "auth",
		"user_id":   user.ID,
		"username":  user.Username,
		"role":      user.Role,
	}).Info("User registered")

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Login handles user authentication
// @Summary Login user
// @Description Authenticate user with username and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.User
	var hashedPassword string
	err := s.db.QueryRow(`
		SELECT id, username, email, password, role, created_at
		FROM users
		WHERE username = $1`, strings.ToLower(req.Username)).
		Scan(&user.ID, &user.Username, &user.Email, &hashedPassword, &user.Role, &user.CreatedAt)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "auth",
			"username":  req.Username,
		}).Warn("Login failed: user not found")
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		logrus.WithFields(logrus.Fields{
			"component": "auth",
			"username":  req.Username,
		}).Warn("Login failed: wrong password")
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateJWT(user.ID, user.Role)
	if err != nil {
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	logrus.WithFields(logrus.Fields{
		"component": "auth",
		"user_id":   user.ID,
	}).Info("Login successful")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, User: user})
}

// Logout handles user logout
// @Summary Logout user
// @Description Logout user and blacklist token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			// Blacklist token until its expiration
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				logrus.WithFields(logrus.Fields{
					"component": "auth",
					"error":     err.Error(),
				}).Error("Failed to blacklist token")
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// Me returns the authenticated user
// @Summary Get current user
// @Description Get the authenticated user's identity and role
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.User
// @Failure 401 {object} ErrorResponse
// @Router /users/me [get]
func (s *AuthService) Me(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	user, err := s.ResolveUser(r.Context(), userID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

// ResolveUser looks up a user's identity and role by id.
func (s *AuthService) ResolveUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, created_at
		FROM users
		WHERE id = $1`, userID).
		Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", userID, err)
	}
	return &user, nil
}

func generateJWT(userID int64, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}
