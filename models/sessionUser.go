package models

// SessionUser is the actor projection the auth service writes to Redis at
// login ("User:<username>"). The inventory service reads it to scope
// requests; it never persists user rows of its own.
type SessionUser struct {
	ID         int    `json:"id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	BusinessId string `json:"business_id"`
	Role       string `json:"role"`
	IsActive   *bool  `json:"is_active"`
}
