// Package server carries the shared dependencies the API handlers read.
package server

import (
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/arcana-forge/arcana/internal/config"
	"github.com/arcana-forge/arcana/internal/services"
)

// Server contains the server configuration.
type Server struct {
	// Core is the workspace knowledge & agent core facade.
	Core *services.Service

	// Config is the config for the server.
	Config *config.Config

	// DB is the database for the server.
	DB *gorm.DB

	// Logger is the logger for the server.
	Logger hclog.Logger
}
