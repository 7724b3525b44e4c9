package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"coachapp/db"
	"coachapp/messaging"
	"coachapp/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid nickname or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidProfile     = errors.New("nickname, password and role are required")
)

// Registration - данные для регистрации тренера или клиента
type Registration struct {
	Nickname    string      `json:"nickname"`
	Password    string      `json:"password"`
	DisplayName string      `json:"display_name"`
	Role        models.Role `json:"role"`
}

// UserService - профили, пароли и токены. Реализует messaging.ProfileLookup.
type UserService struct {
	orm *gorm.DB
}

func NewUserService(orm *gorm.DB) *UserService {
	return &UserService{orm: orm}
}

func (s *UserService) Register(ctx context.Context, reg Registration) (*models.Profile, error) {
	reg.Nickname = strings.TrimSpace(reg.Nickname)
	if reg.Nickname == "" || reg.Password == "" || !reg.Role.Valid() {
		return nil, ErrInvalidProfile
	}

	// Проверяем, существует ли пользователь с таким никнеймом
	var alreadyExists int64
	err := db.ReadOnly(ctx, s.orm).Model(&models.Profile{}).Where("nickname = ?", reg.Nickname).Count(&alreadyExists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check nickname: %w", err)
	}
	if alreadyExists > 0 {
		return nil, ErrUserExists
	}

	passwordHash, err := hashPassword(reg.Password)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(reg.DisplayName)
	if displayName == "" {
		displayName = reg.Nickname
	}
	profile := &models.Profile{
		ID:          uuid.NewString(),
		Nickname:    reg.Nickname,
		DisplayName: displayName,
		Role:        reg.Role,
		Password:    passwordHash,
	}
	if err := db.Write(ctx, s.orm).Create(profile).Error; err != nil {
		// параллельная регистрация того же никнейма упирается в уникальный индекс
		if errors.Is(err, gorm.ErrDuplicatedKey) || s.nicknameTaken(ctx, reg.Nickname) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	log.Printf("DEBUG: registered %s %s (%s)", profile.Role, profile.Nickname, profile.ID)
	return profile, nil
}

func (s *UserService) nicknameTaken(ctx context.Context, nickname string) bool {
	var count int64
	err := db.Write(ctx, s.orm).Model(&models.Profile{}).Where("nickname = ?", nickname).Count(&count).Error
	return err == nil && count > 0
}

// Login проверяет пароль и выдает новый токен; старые токены пользователя удаляются
func (s *UserService) Login(ctx context.Context, nickname, password string) (string, *models.Profile, error) {
	var profile models.Profile
	err := db.Write(ctx, s.orm).Where("nickname = ?", strings.TrimSpace(nickname)).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load profile: %w", err)
	}

	ok, err := checkPassword(profile.Password, password)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	if err := s.Logout(ctx, profile.ID); err != nil {
		return "", nil, err
	}
	// Генерируем новый токен
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(tokenBytes)

	err = db.Write(ctx, s.orm).Create(&models.UserToken{UserID: profile.ID, Token: token}).Error
	if err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}
	return token, &profile, nil
}

func (s *UserService) Logout(ctx context.Context, userID string) error {
	err := db.Write(ctx, s.orm).Where("user_id = ?", userID).Delete(&models.UserToken{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}
	return nil
}

// ResolveToken возвращает владельца токена
func (s *UserService) ResolveToken(ctx context.Context, token string) (*models.Profile, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var stored models.UserToken
	err := db.Write(ctx, s.orm).Where("token = ?", token).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check token: %w", err)
	}

	profile, err := s.GetProfile(ctx, stored.UserID)
	if errors.Is(err, messaging.ErrProfileNotFound) {
		return nil, ErrInvalidToken
	}
	return profile, err
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := db.ReadOnly(ctx, s.orm).Where("id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, messaging.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, nil
}

// hashPassword - argon2id, формат salt$hash в hex
func hashPassword(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash), nil
}

func checkPassword(stored, password string) (bool, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false, errors.New("invalid password format")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false, err
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	expected, err := hex.DecodeString(parts[1])
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(hash, expected) == 1, nil
}
