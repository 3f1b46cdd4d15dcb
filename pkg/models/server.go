package models

// CreateServerRequest registers a managed server.
type CreateServerRequest struct {
	Name       string   `json:"name" binding:"required"`
	Host       string   `json:"host" binding:"required"`
	Port       int      `json:"port"`
	User       string   `json:"user"`
	AuthMethod string   `json:"auth_method"`
	Password   string   `json:"password,omitempty"`
	PrivateKey string   `json:"private_key,omitempty"`
	KeyPath    string   `json:"key_path,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// UpdateServerRequest mutates a managed server. Nil fields are untouched.
type UpdateServerRequest struct {
	Name       *string  `json:"name,omitempty"`
	Host       *string  `json:"host,omitempty"`
	Port       *int     `json:"port,omitempty"`
	User       *string  `json:"user,omitempty"`
	AuthMethod *string  `json:"auth_method,omitempty"`
	Password   *string  `json:"password,omitempty"`
	PrivateKey *string  `json:"private_key,omitempty"`
	KeyPath    *string  `json:"key_path,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}
