package main

import (
	"context"
	"log"
	"os"

	"github.com/theblackhat55/aria51a-sub006/internal/database"
	"github.com/theblackhat55/aria51a-sub006/internal/handler"
	"github.com/theblackhat55/aria51a-sub006/internal/middleware"
	"github.com/theblackhat55/aria51a-sub006/internal/repository"
	"github.com/theblackhat55/aria51a-sub006/internal/service"
	"github.com/theblackhat55/aria51a-sub006/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSslMode := os.Getenv("DB_SSLMODE")

	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbPort == "" {
		dbPort = "5432"
	}
	if dbUser == "" {
		dbUser = "postgres"
	}
	if dbPassword == "" {
		dbPassword = "postgres"
	}
	if dbName == "" {
		dbName = "postgres"
	}
	if dbSslMode == "" {
		dbSslMode = "disable"
	}

	dsn := "postgres://" + dbUser + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbName + "?sslmode=" + dbSslMode

	db, err := database.NewConnection(dsn)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully.")

	// Set up WebSocket Hub for the admin security event feed
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	samlRepo := repository.NewSAMLRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	txManager := repository.NewTransactionManager(db)

	permissionService := service.NewPermissionService(userRepo, roleRepo)
	securityService := service.NewSecurityService(userRepo, auditRepo, txManager, wsHub)
	roleService := service.NewRoleService(roleRepo, userRepo, auditRepo, txManager, wsHub)
	samlService := service.NewSAMLService(samlRepo, userRepo, roleRepo, roleService, securityService, auditRepo, txManager, wsHub)
	userService := service.NewUserService(userRepo, roleRepo, tokenRepo, samlRepo, auditRepo, roleService, securityService, middleware.GetJWTSecret())
	auditService := service.NewAuditService(auditRepo)

	middleware.InitPermissionMiddleware(permissionService)

	// Seed built-in roles and the default IdP group mappings
	ctx := context.Background()
	if err := roleService.SeedDefaultRoles(ctx); err != nil {
		log.Fatalf("Failed to seed default roles: %v", err)
	}
	if err := samlService.SeedDefaultGroupMappings(ctx); err != nil {
		log.Printf("WARNING: Failed to seed default group mappings: %v", err)
	}

	// Initialize Handlers
	authHandler := handler.NewAuthHandler(userService, permissionService)
	userHandler := handler.NewUserHandler(userService, securityService)
	roleHandler := handler.NewRoleHandler(roleService)
	samlHandler := handler.NewSAMLHandler(samlService, userService)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// WebSocket endpoint for the admin security feed
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, middleware.GetJWTSecret())
	})

	// Register API Routes
	authHandler.RegisterRoutes(router.Group(""))
	userHandler.RegisterRoutes(router.Group(""))
	roleHandler.RegisterRoutes(router.Group(""))
	samlHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
