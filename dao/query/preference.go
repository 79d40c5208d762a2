package query

import (
	"context"
	"errors"

	"fileglancer/dao/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPreferenceNotFound = errors.New("preference not found")

func GetPreference(ctx context.Context, db *gorm.DB, username, key string) (datatypes.JSON, error) {
	var pref model.UserPreference
	err := db.WithContext(ctx).Where("username = ? AND key = ?", username, key).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPreferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return pref.Value, nil
}

func ListPreferences(ctx context.Context, db *gorm.DB, username string) (map[string]datatypes.JSON, error) {
	var prefs []model.UserPreference
	if err := db.WithContext(ctx).Where("username = ?", username).Order("key").Find(&prefs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]datatypes.JSON, len(prefs))
	for _, p := range prefs {
		out[p.Key] = p.Value
	}
	return out, nil
}

// SetPreference upserts; the last write wins.
func SetPreference(ctx context.Context, db *gorm.DB, username, key string, value datatypes.JSON) error {
	pref := model.UserPreference{Username: username, Key: key, Value: value}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&pref).Error
}

func DeletePreference(ctx context.Context, db *gorm.DB, username, key string) error {
	res := db.WithContext(ctx).Where("username = ? AND key = ?", username, key).Delete(&model.UserPreference{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrPreferenceNotFound
	}
	return nil
}
