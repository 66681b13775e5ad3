package api

// AuthRequest is the body of the register and login endpoints.
type AuthRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=4,max=128"`
}

// AuthResponse is returned by a successful register or login.
type AuthResponse struct {
	Message  string `json:"message"`
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
