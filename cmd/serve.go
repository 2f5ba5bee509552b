package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/salon-face/internal/auth"
	"github.com/example/salon-face/internal/config"
	"github.com/example/salon-face/internal/grpcapi"
	"github.com/example/salon-face/internal/handlers"
	"github.com/example/salon-face/internal/imageintake"
	"github.com/example/salon-face/internal/jobs"
	"github.com/example/salon-face/internal/logging"
	"github.com/example/salon-face/internal/repository"
	"github.com/example/salon-face/internal/server"
	"github.com/example/salon-face/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long: `Start the face-code service. The HTTP API handles enrollment and
verification; the gRPC endpoint exposes stateless extraction and scoring.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("no-grpc", false, "Serve only the HTTP API")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.UsesDevSecret() {
		logger.Warn("tokens are signed with the development JWT secret; set JWT_SECRET", zap.String("environment", cfg.Environment))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	db, err := initDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	repo := repository.NewFaceRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	redisClient, err := initRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	uc := usecase.NewFaceUseCase(repo, usecase.NewRedisCache(redisClient), logger, usecase.Options{
		Threshold: cfg.Matching.Threshold,
		CacheTTL:  cfg.Redis.CacheTTL,
	})

	if cfg.Retention.LogRetention > 0 {
		retention, err := jobs.NewRetention(uc, cfg.Retention.LogRetention, cfg.Retention.Interval, logger)
		if err != nil {
			return fmt.Errorf("schedule log retention: %w", err)
		}
		retention.Start()
		defer retention.Stop()
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	r.MaxMultipartMemory = imageintake.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience), logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	opts := server.Options{ShutdownTimeout: cfg.ShutdownTimeout}
	if !mustGetBool(cmd, "no-grpc") {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc on %s: %w", cfg.GRPCAddr, err)
		}
		grpcOpts := append(grpcapi.ServerOptions(), grpc.ChainUnaryInterceptor(grpcapi.LoggingInterceptor(logger)))
		grpcServer := grpc.NewServer(grpcOpts...)
		grpcapi.Register(grpcServer, grpcapi.NewService(logger))
		opts.GRPCServer = grpcServer
		opts.GRPCListener = lis
		logger.Info("gRPC listening", zap.String("addr", cfg.GRPCAddr))
	}

	logger.Info("HTTP API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Float64("threshold", uc.Threshold()),
	)
	return server.Serve(httpServer, logger, opts)
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		dialector = postgres.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	return client, nil
}
