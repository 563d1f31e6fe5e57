package repository

import (
	"github.com/abeldemoz/birrledger/app/models"
	"gorm.io/gorm"
)

type couponRepository struct {
	db *gorm.DB
}

// NewCouponRepository creates a coupon repository backed by GORM.
func NewCouponRepository(db *gorm.DB) CouponRepository {
	return &couponRepository{db: db}
}

func (r *couponRepository) WithTx(tx *gorm.DB) CouponRepository {
	return &couponRepository{db: tx}
}

func (r *couponRepository) GetByCode(code string) (*models.Coupon, error) {
	var c models.Coupon
	if err := r.db.Where("code = ?", code).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *couponRepository) GetTemplateByID(id uint) (*models.CouponTemplate, error) {
	var t models.CouponTemplate
	if err := r.db.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *couponRepository) CreateTemplate(t *models.CouponTemplate) error {
	return r.db.Create(t).Error
}

func (r *couponRepository) CreateCoupon(c *models.Coupon) error {
	return r.db.Create(c).Error
}

func (r *couponRepository) CountUsagesByUser(couponID, userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count, err
}

func (r *couponRepository) GetUsageByReference(couponID, userID uint, paymentReference string) (*models.CouponUsage, error) {
	var usage models.CouponUsage
	err := r.db.
		Where("coupon_id = ? AND user_id = ? AND payment_reference = ?", couponID, userID, paymentReference).
		First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// IncrementUsage is the compare-and-swap at the heart of the redemption
// engine: UPDATE ... WHERE id=? AND version=? with an affected-rows check.
func (r *couponRepository) IncrementUsage(couponID uint, version int) (bool, error) {
	tx := r.db.Model(&models.Coupon{}).
		Where("id = ? AND version = ?", couponID, version).
		Updates(map[string]interface{}{
			"current_usage_count": gorm.Expr("current_usage_count + 1"),
			"version":             gorm.Expr("version + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *couponRepository) CreateUsage(usage *models.CouponUsage) error {
	return r.db.Create(usage).Error
}
