package models

// User is the directory view of an account, resolved at connection time.
type User struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Name     string `json:"name,omitempty"`
	IsActive bool   `json:"is_active"`
}
