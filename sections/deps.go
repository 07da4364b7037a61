package sections

import (
	"webnova-backend/common"
	"webnova-backend/db"
	"webnova-backend/storage"
)

// Dependencies holds all shared dependencies for handlers
type Dependencies struct {
	Config *common.Config
	Plans  []common.Plan
	DB     *db.DB
	Redis  *storage.RedisClient
}

// NewDependencies creates a new Dependencies instance
func NewDependencies(cfg *common.Config, plans []common.Plan, database *db.DB, redis *storage.RedisClient) *Dependencies {
	return &Dependencies{
		Config: cfg,
		Plans:  plans,
		DB:     database,
		Redis:  redis,
	}
}
