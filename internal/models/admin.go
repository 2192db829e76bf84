package models

// UserActionRequest is the admin user-management payload.
// Action is one of list, create, delete.
type UserActionRequest struct {
	Action   string `json:"action" validate:"required"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserListResponse carries the sanitized user records for action=list.
type UserListResponse struct {
	Users []UserInfo `json:"users"`
}

// UserCreateResponse returns the created user together with the plaintext
// default API password. The plaintext is shown exactly once.
type UserCreateResponse struct {
	User        UserInfo `json:"user"`
	APIPassword string   `json:"apiPassword"`
}

// APIPasswordActionRequest is the credential self-management payload.
// Action is one of list, add, delete. Username is honored for admin actors
// only; everyone else operates on their own record.
type APIPasswordActionRequest struct {
	Action   string `json:"action" validate:"required"`
	Label    string `json:"label"`
	Username string `json:"username"`
}

// APIPasswordListResponse carries labels and creation times, newest first.
type APIPasswordListResponse struct {
	APIPasswords []APIPasswordInfo `json:"apiPasswords"`
}

// APIPasswordAddResponse returns the one-time plaintext of a new credential.
type APIPasswordAddResponse struct {
	Label       string `json:"label"`
	APIPassword string `json:"apiPassword"`
}

// PasswordActionRequest is the login-password change payload.
// Action is "change". CurrentPassword is required for self-service;
// admin actors may reset another user by naming Username.
type PasswordActionRequest struct {
	Action          string `json:"action" validate:"required"`
	Username        string `json:"username"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// MessageResponse is the generic {"message": ...} acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}
