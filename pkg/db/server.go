// Database models for managed servers
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Server is a remote host the agent can operate on over SSH.
type Server struct {
	ID   string `json:"id" gorm:"primaryKey;size:36"`
	Name string `json:"name" gorm:"size:100;not null"`
	Host string `json:"host" gorm:"size:255;not null"`
	Port int    `json:"port" gorm:"default:22"`
	User string `json:"user" gorm:"size:100"`

	// AuthMethod selects which credential field applies.
	AuthMethod string `json:"auth_method" gorm:"size:20;default:'password'"` // password, key, keyfile
	Password   string `json:"-" gorm:"size:255"`
	PrivateKey string `json:"-" gorm:"type:text"`
	KeyPath    string `json:"-" gorm:"size:500"`

	Tags   StringArray `json:"tags,omitempty" gorm:"type:json"`
	Status string      `json:"status" gorm:"size:20;default:'unknown'"` // unknown, online, offline

	// Facts holds the result of the last discovery probe (OS, resources,
	// installed services) as free-form JSON.
	Facts        JSONMap    `json:"facts,omitempty" gorm:"type:json"`
	DiscoveredAt *time.Time `json:"discovered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Server) TableName() string {
	return "servers"
}

// Server auth methods
const (
	AuthMethodPassword = "password"
	AuthMethodKey      = "key"
	AuthMethodKeyFile  = "keyfile"
)

// Server status
const (
	ServerStatusUnknown = "unknown"
	ServerStatusOnline  = "online"
	ServerStatusOffline = "offline"
)

// ========== Helper Types ==========

// StringArray is a slice of strings stored as JSON
type StringArray []string

// Value implements driver.Valuer for StringArray
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for StringArray
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, s)
}

// JSONMap is a generic JSON map type
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONMap
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte or string failed")
	}
	return json.Unmarshal(bytes, j)
}
