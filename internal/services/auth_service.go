package services

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService validates bearer tokens issued by the ERP auth service.
type AuthService struct {
	secret []byte
}

type JWTClaims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// ValidateToken validates JWT token and returns user claims
func (as *AuthService) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return as.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid && claims.UserID != 0 {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
