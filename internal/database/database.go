package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens the sqlite database at path in WAL mode and migrates the schema.
func Init(path string) error {
	dbDir := filepath.Dir(path)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}
	return nil
}

// Migrate creates or updates the tables on db.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Profile{}, &SSHKey{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// Ping reports whether the database answers queries.
func Ping() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

func DeleteSetting(key string) error {
	return DB.Where("key = ?", key).Delete(&Setting{}).Error
}

// Profile helpers

// CreateProfile inserts p, assigning an id when it has none.
func CreateProfile(p *Profile) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Metadata == "" {
		p.Metadata = "{}"
	}
	return DB.Create(p).Error
}

// ListProfiles returns profiles ordered by group then name. Empty filters
// match everything.
func ListProfiles(group, connectionType string) ([]Profile, error) {
	q := DB.Model(&Profile{})
	if group != "" {
		q = q.Where("group_name = ?", group)
	}
	if connectionType != "" {
		q = q.Where("connection_type = ?", connectionType)
	}
	var profiles []Profile
	if err := q.Order("group_name, name").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func GetProfile(id string) (*Profile, error) {
	var p Profile
	if err := DB.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile applies column updates to the profile with the given id.
// It returns gorm.ErrRecordNotFound when no such profile exists.
func UpdateProfile(id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		_, err := GetProfile(id)
		return err
	}
	res := DB.Model(&Profile{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func DeleteProfile(id string) error {
	res := DB.Where("id = ?", id).Delete(&Profile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListGroups returns the distinct non-empty group names, sorted.
func ListGroups() ([]string, error) {
	var groups []string
	err := DB.Model(&Profile{}).
		Where("group_name <> ''").
		Distinct("group_name").
		Order("group_name").
		Pluck("group_name", &groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func MarkProfileUsed(id string) error {
	return DB.Model(&Profile{}).Where("id = ?", id).Update("last_used", time.Now()).Error
}

// SSH key helpers

func CreateSSHKey(k *SSHKey) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	return DB.Create(k).Error
}

func ListSSHKeys() ([]SSHKey, error) {
	var keys []SSHKey
	if err := DB.Order("name").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func GetSSHKey(id string) (*SSHKey, error) {
	var k SSHKey
	if err := DB.Where("id = ?", id).First(&k).Error; err != nil {
		return nil, err
	}
	return &k, nil
}

func UpdateSSHKey(id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		_, err := GetSSHKey(id)
		return err
	}
	res := DB.Model(&SSHKey{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteSSHKey removes the key and detaches it from every profile that
// referenced it.
func DeleteSSHKey(id string) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&SSHKey{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&Profile{}).Where("ssh_key_id = ?", id).Update("ssh_key_id", "").Error
	})
}

func MarkSSHKeyUsed(id string) error {
	return DB.Model(&SSHKey{}).Where("id = ?", id).Update("last_used", time.Now()).Error
}
