package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds a student's credentials.
type LoginRequest struct {
	NIM      string `json:"nim" validate:"required,max=32"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued access token.
type LoginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	Student     StudentInfo `json:"student"`
	IssuedAt    time.Time   `json:"issued_at"`
}

// StudentInfo describes the authenticated student in responses.
type StudentInfo struct {
	ID       string `json:"id"`
	NIM      string `json:"nim"`
	FullName string `json:"full_name"`
}

// JWTClaims is the access token payload.
type JWTClaims struct {
	StudentID string `json:"student_id"`
	NIM       string `json:"nim"`
	FullName  string `json:"full_name"`
	jwt.RegisteredClaims
}
