package database

import (
	"fmt"
	"log"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

var DB *gorm.DB

// GetDB returns the shared GORM handle initialized by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}

func SetupDatabase() {
	var err error
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  false, // webhook ordering compares microsecond timestamps
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			// Duplicate-key races are part of normal control flow (receipts,
			// coupon usages); surface them as gorm.ErrDuplicatedKey.
			TranslateError: true,
		})
		if err == nil {
			if err := Migrate(DB); err != nil {
				panic(err)
			}
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// Migrate creates/updates the billing schema and seeds the plan catalog.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.SubscriptionPlan{},
		&models.ProviderPlanRef{},
		&models.Customer{},
		&models.ProviderCustomerRef{},
		&models.PaymentGatewayRef{},
		&models.UserSubscription{},
		&models.CouponTemplate{},
		&models.Coupon{},
		&models.CouponUsage{},
		&models.Receipt{},
		&models.WebhookEvent{},
	); err != nil {
		return fmt.Errorf("automigrate billing schema: %w", err)
	}
	return seedPlans(db)
}
