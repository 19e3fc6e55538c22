package httpdto

// DevTokenRequest is used for POST /v1/auth/dev-token
type DevTokenRequest struct {
	Handle string `json:"handle" binding:"required"`
}

type AuthUserDTO struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

type AuthResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	SessionID   string      `json:"session_id"`
	User        AuthUserDTO `json:"user"`
}
