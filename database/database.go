package database

import (
	"fmt"
	"log"
	"os"

	"familybook/internal/domain/billing"
	"familybook/internal/domain/groups"
	"familybook/internal/domain/issues"
	"familybook/internal/domain/users"
	"familybook/internal/logging"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func InitDB() {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatal("❌ DB_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logging.GormLogger()})
	if err != nil {
		log.Fatal("❌ Failed to connect to database:", err)
	}

	DB = db

	if err := Migrate(DB); err != nil {
		log.Fatal("❌ AutoMigrate error:", err)
	}

	fmt.Println("✅ Connected and migrated successfully")
}

// Models lists every table, parents before children.
func Models() []interface{} {
	return []interface{}{
		// identity
		&users.User{},

		// groups
		&groups.Group{},
		&groups.Member{},
		&groups.Recipient{},

		// issues
		&issues.Issue{},
		&issues.Post{},
		&issues.Book{},

		// billing
		&billing.Subscription{},
		&billing.Payment{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
