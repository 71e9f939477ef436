// AngelaMos | 2026
// dto.go

package auth

import (
	"strings"
)

type SignupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,username"`
	Email    string `json:"email"    validate:"required,email,max=256"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

func (r *SignupRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" validate:"required,min=3,max=256"`
	Password        string `json:"password"        validate:"required,min=8,max=100"`
}

func (r *LoginRequest) Normalize() {
	r.UsernameOrEmail = strings.TrimSpace(r.UsernameOrEmail)
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=512"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"`
	Role         Role   `json:"role"`
}

type MeResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}
