package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/inventory_backend/config"
	"bitbucket.org/mmdatafocus/inventory_backend/utils"
)

const defaultLowStockThreshold = 5

// InventorySettings holds per-business stock policy. The engine never reads
// it directly; callers load a ReservationPolicy at the boundary and pass it
// down, so the same reservation code serves any policy source.
type InventorySettings struct {
	ID                 int       `gorm:"primary_key" json:"id"`
	BusinessId         string    `gorm:"uniqueIndex;not null" json:"business_id"`
	AllowNegativeStock *bool     `gorm:"not null;default:false" json:"allow_negative_stock"`
	LowStockThreshold  int       `gorm:"not null;default:5" json:"low_stock_threshold"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInventorySettings struct {
	AllowNegativeStock *bool `json:"allow_negative_stock" binding:"required"`
	LowStockThreshold  int   `json:"low_stock_threshold"`
}

// ReservationPolicy is the slice of settings the stock engine needs per call.
type ReservationPolicy struct {
	AllowNegativeStock bool
}

func GetInventorySettings(ctx context.Context) (*InventorySettings, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var settings InventorySettings
	err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&settings).Error
	if err != nil {
		// businesses provisioned before settings existed fall back to defaults
		return &InventorySettings{
			BusinessId:         businessId,
			AllowNegativeStock: utils.NewFalse(),
			LowStockThreshold:  defaultLowStockThreshold,
		}, nil
	}
	return &settings, nil
}

func UpdateInventorySettings(ctx context.Context, input *NewInventorySettings) (*InventorySettings, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.LowStockThreshold < 0 {
		return nil, NewValidationError("low stock threshold cannot be negative")
	}

	threshold := input.LowStockThreshold
	if threshold == 0 {
		threshold = defaultLowStockThreshold
	}

	db := config.GetDB()
	var settings InventorySettings
	err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&settings).Error
	if err != nil {
		settings = InventorySettings{
			BusinessId:         businessId,
			AllowNegativeStock: input.AllowNegativeStock,
			LowStockThreshold:  threshold,
		}
		if err := db.WithContext(ctx).Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	}

	err = db.WithContext(ctx).Model(&settings).Updates(map[string]interface{}{
		"AllowNegativeStock": input.AllowNegativeStock,
		"LowStockThreshold":  threshold,
	}).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// ReservationPolicyForContext loads the business policy once for a request.
func ReservationPolicyForContext(ctx context.Context) (ReservationPolicy, error) {
	settings, err := GetInventorySettings(ctx)
	if err != nil {
		return ReservationPolicy{}, err
	}
	allowNegative := config.AllowNegativeStockDefault()
	if settings.AllowNegativeStock != nil {
		allowNegative = *settings.AllowNegativeStock
	}
	return ReservationPolicy{AllowNegativeStock: allowNegative}, nil
}
