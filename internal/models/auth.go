package models

// LoginRequest represents login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// SessionUser is the identity echoed back to the UI for a signed-in request.
type SessionUser struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// AuthEnabled tells the UI which route classes currently require credentials.
type AuthEnabled struct {
	General bool `json:"general"`
	Publish bool `json:"publish"`
	Admin   bool `json:"admin"`
}

// UIConfigResponse is the public probe the UI calls before anything else to
// discover the server identity and whether it must show a login form.
type UIConfigResponse struct {
	Realm       string       `json:"realm"`
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	AuthMode    string       `json:"authMode"`
	AuthEnabled AuthEnabled  `json:"authEnabled"`
	CurrentUser *SessionUser `json:"currentUser"`
}
