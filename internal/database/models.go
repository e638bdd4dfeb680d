package database

import "time"

// Profile is a saved connection. Secret columns hold fernet tokens.
type Profile struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	Name           string     `gorm:"not null;size:100" json:"name"`
	ConnectionType string     `gorm:"not null;default:ssh;index" json:"connection_type"`
	Hostname       string     `json:"hostname"`
	Port           int        `gorm:"not null;default:0" json:"port"`
	Username       string     `json:"username"`
	Password       string     `json:"-"`
	PrivateKey     string     `gorm:"type:text" json:"-"`
	Passphrase     string     `json:"-"`
	SSHKeyID       string     `gorm:"size:36" json:"ssh_key_id"`
	GroupName      string     `gorm:"index;default:''" json:"group_name"`
	Encoding       string     `gorm:"default:auto" json:"encoding"`
	Device         string     `json:"device"`
	BaudRate       int        `gorm:"not null;default:0" json:"baud_rate"`
	Metadata       string     `gorm:"type:text;default:'{}'" json:"-"` // JSON object
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastUsed       *time.Time `json:"last_used"`
}

// SSHKey is a stored private key referenced by profiles and connect requests.
type SSHKey struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Name        string     `gorm:"uniqueIndex;not null;size:100" json:"name"`
	PrivateKey  string     `gorm:"type:text;not null" json:"-"` // Fernet-encrypted
	Passphrase  string     `json:"-"`                          // Fernet-encrypted
	Description string     `json:"description"`
	Fingerprint string     `json:"fingerprint"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastUsed    *time.Time `json:"last_used"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
