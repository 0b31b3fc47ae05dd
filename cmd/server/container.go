package main

import (
	"context"
	"fmt"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/influence20/bluerocksite-sub000/pkg/account"
	"github.com/influence20/bluerocksite-sub000/pkg/account/accountapi"
	"github.com/influence20/bluerocksite-sub000/pkg/account/accountinfra"
	"github.com/influence20/bluerocksite-sub000/pkg/account/accountsrv"
	"github.com/influence20/bluerocksite-sub000/pkg/auth"
	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/db"
	"github.com/influence20/bluerocksite-sub000/pkg/eventx"
	"github.com/influence20/bluerocksite-sub000/pkg/fsx"
	"github.com/influence20/bluerocksite-sub000/pkg/fsx/fsxlocal"
	"github.com/influence20/bluerocksite-sub000/pkg/fsx/fsxs3"
	"github.com/influence20/bluerocksite-sub000/pkg/kernel"
	"github.com/influence20/bluerocksite-sub000/pkg/logx"
	"github.com/influence20/bluerocksite-sub000/pkg/notifx"
	"github.com/influence20/bluerocksite-sub000/pkg/otp"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpapi"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpinfra"
	"github.com/influence20/bluerocksite-sub000/pkg/otp/otpsrv"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal/withdrawalapi"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal/withdrawalinfra"
	"github.com/influence20/bluerocksite-sub000/pkg/withdrawal/withdrawalsrv"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

const appName = "Bluerock"

// Container holds all application dependencies
type Container struct {
	Config *config.Config

	// Infrastructure
	DB         *sqlx.DB
	Redis      *redis.Client
	FileSystem fsx.FileSystem
	Events     eventx.Publisher
	Mailer     notifx.Sender

	// Repositories
	OTPStore       otp.Store
	AccountRepo    account.Repository
	WithdrawalRepo withdrawal.Repository

	// Services
	Tokens            *auth.JWTService
	OTPService        *otpsrv.OTPService
	AccountService    *accountsrv.AccountService
	WithdrawalService *withdrawalsrv.WithdrawalService

	// HTTP
	AuthMiddleware     *auth.Middleware
	OTPHandlers        *otpapi.Handlers
	AccountHandlers    *accountapi.Handlers
	WithdrawalHandlers *withdrawalapi.Handlers

	// Background Services
	SweepService *otpinfra.SweepService
}

// NewContainer initializes the dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logx.Info("Initializing dependency container...")

	c := &Container{Config: cfg}

	steps := []func(context.Context) error{
		c.initInfrastructure,
		c.initFileStorage,
		c.initRepositories,
		c.initServices,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			c.Cleanup()
			return nil, err
		}
	}
	c.initHandlers()

	logx.Info("Container initialized successfully")
	return c, nil
}

func (c *Container) needsPostgres() bool {
	return c.Config.OTP.Store == "postgres" || c.Config.Withdrawal.Store == "postgres"
}

func (c *Container) initInfrastructure(ctx context.Context) error {
	if c.needsPostgres() {
		conn, err := db.Connect(c.Config.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		c.DB = conn
		logx.Info("Database connected")
	}

	if c.Config.OTP.Store == "redis" {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logx.Info("Redis connected")
	}

	if c.Config.Events.Enabled() {
		c.Events = eventx.NewKafkaPublisher(c.Config.Events.KafkaBrokers, c.Config.Events.Topic)
		logx.Infof("Publishing events to Kafka topic %s", c.Config.Events.Topic)
	} else {
		c.Events = eventx.NopPublisher{}
	}

	mailer, err := notifx.NewSender(ctx, c.Config.Email, c.Config.IsDevelopment())
	if err != nil {
		return err
	}
	c.Mailer = mailer
	logx.Infof("Email provider: %s", mailer.Name())
	return nil
}

func (c *Container) initFileStorage(ctx context.Context) error {
	switch c.Config.Storage.Mode {
	case "s3":
		awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(c.Config.Storage.AWSRegion))
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		c.FileSystem = fsxs3.NewS3FileSystem(client, c.Config.Storage.Bucket, c.Config.Storage.Prefix)
		logx.Infof("Receipts stored in S3 bucket %s", c.Config.Storage.Bucket)
	default:
		local, err := fsxlocal.NewLocalFileSystem(c.Config.Storage.UploadDir)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		c.FileSystem = local
		logx.Infof("Receipts stored under %s", local.GetBasePath())
	}
	return nil
}

func (c *Container) initRepositories(ctx context.Context) error {
	switch c.Config.OTP.Store {
	case "postgres":
		c.OTPStore = otpinfra.NewPostgresStore(c.DB)
	case "redis":
		c.OTPStore = otpinfra.NewRedisStore(c.Redis, c.Config.OTP.FreshnessWindow)
	default:
		c.OTPStore = otpinfra.NewMemoryStore()
	}

	// Accounts and withdrawals share a database because Complete debits the balance.
	if c.Config.Withdrawal.Store == "postgres" {
		c.AccountRepo = accountinfra.NewPostgresAccountRepository(c.DB)
		c.WithdrawalRepo = withdrawalinfra.NewPostgresRepository(c.DB)
	} else {
		c.AccountRepo = accountinfra.NewMemoryAccountRepository()
		c.WithdrawalRepo = withdrawalinfra.NewMemoryRepository()
	}

	logx.WithFields(logx.Fields{
		"otp_store":        c.Config.OTP.Store,
		"withdrawal_store": c.Config.Withdrawal.Store,
	}).Info("Repositories initialized")
	return nil
}

func (c *Container) initServices(ctx context.Context) error {
	// The account repository resolves recipients directly; the account service
	// itself depends on the OTP service.
	recipients := notifx.RecipientFunc(func(ctx context.Context, subjectID string) (string, error) {
		a, err := c.AccountRepo.FindByID(ctx, kernel.AccountID(subjectID))
		if err != nil {
			return "", err
		}
		return a.Email, nil
	})
	notifier := notifx.NewCodeNotifier(c.Mailer, recipients, appName)

	c.Tokens = auth.NewJWTServiceFromConfig(c.Config.Auth.JWT)
	c.OTPService = otpsrv.NewOTPService(c.OTPStore, notifier, c.Config.OTP,
		otpsrv.WithPublisher(c.Events),
		otpsrv.WithPurposeTTL(otp.PurposeWithdrawal, c.Config.Withdrawal.PINExpiry),
	)
	c.AccountService = accountsrv.NewAccountService(
		c.AccountRepo,
		accountinfra.NewBcryptPasswordService(c.Config.Auth.Password.BcryptCost),
		c.OTPService,
		c.Tokens,
		c.Config.Auth.Password,
	)
	c.WithdrawalService = withdrawalsrv.NewWithdrawalService(
		c.WithdrawalRepo,
		c.AccountRepo,
		notifier,
		c.FileSystem,
		c.Config.Withdrawal,
		withdrawalsrv.WithPublisher(c.Events),
	)

	if c.Config.Auth.AdminEmail != "" && c.Config.Auth.AdminPassword != "" {
		if _, err := c.AccountService.EnsureAdmin(ctx, c.Config.Auth.AdminEmail, c.Config.Auth.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	c.SweepService = otpinfra.NewSweepService(c.OTPStore, c.Config.OTP.SweepInterval, c.Config.OTP.FreshnessWindow)
	return nil
}

func (c *Container) initHandlers() {
	c.AuthMiddleware = auth.NewMiddleware(c.Tokens)

	c.OTPHandlers = otpapi.NewHandlers(c.OTPService, c.AccountService)
	c.OTPHandlers.OnVerified(otp.PurposeLogin, func(ctx context.Context, subjectID string) (map[string]any, error) {
		res, err := c.AccountService.LoginVerified(ctx, kernel.AccountID(subjectID))
		if err != nil {
			return nil, err
		}
		return map[string]any{"tokens": res.Tokens, "account": res.Account}, nil
	})
	c.OTPHandlers.OnVerified(otp.PurposeEmailVerification, func(ctx context.Context, subjectID string) (map[string]any, error) {
		a, err := c.AccountService.MarkEmailVerified(ctx, kernel.AccountID(subjectID))
		if err != nil {
			return nil, err
		}
		return map[string]any{"account": a}, nil
	})

	c.AccountHandlers = accountapi.NewHandlers(c.AccountService, c.OTPService, c.AuthMiddleware)
	c.WithdrawalHandlers = withdrawalapi.NewHandlers(c.WithdrawalService, c.AuthMiddleware)
}

// StartBackgroundServices starts all background services
func (c *Container) StartBackgroundServices(ctx context.Context) {
	logx.Info("Starting background services...")
	go c.SweepService.Start(ctx)
	logx.Infof("OTP sweep running every %s", c.Config.OTP.SweepInterval)
}

// Cleanup closes all connections
func (c *Container) Cleanup() {
	logx.Info("Cleaning up resources...")

	if c.Events != nil {
		if err := c.Events.Close(); err != nil {
			logx.Errorf("Error closing event publisher: %v", err)
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("Redis connection closed")
		}
	}
}

// pingTimeout bounds each dependency check in /health.
const pingTimeout = 2 * time.Second
