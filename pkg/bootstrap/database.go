package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/internal/logger"
	"homeflow/pkg/migrations"
)

// Databases groups the storage handles of a service. Any of them may be nil
// when the matching backend is not configured.
type Databases struct {
	Postgres *sql.DB
	Redis    *redis.Client
	Mongo    *mongo.Client
	MongoDB  *mongo.Database
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	if dc.Config.Database.Redis.Host == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

// InitPostgreSQL opens the pool and, when configured, applies pending
// migrations before returning.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	if pg.Host == "" {
		return nil, nil
	}

	db, err := sql.Open("postgres", PostgresDSN(pg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if pg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pg.MaxOpenConns)
	}
	if pg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		version, err := migrations.UpPostgres(db, dc.Config.Database.MigrationsDir)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		dc.Logger.Infow("PostgreSQL migrations applied", "version", version)
	}

	dc.Logger.Info("PostgreSQL connected successfully")
	return db, nil
}

// InitMongoDB connects and prepares the backup archive collection.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	mc := dc.Config.Database.MongoDB
	if mc.URI == "" {
		return nil, nil, nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mc.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := mc.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	db := client.Database(dbName)
	if err := migrations.EnsureBackupCollection(ctx, db, mc.BackupCollection); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	dc.Logger.Info("MongoDB connected successfully")
	return client, db, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, dbs Databases) []error {
	var errs []error

	if dbs.Redis != nil {
		if err := dbs.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if dbs.Postgres != nil {
		if err := dbs.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if dbs.Mongo != nil {
		if err := dbs.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}

func PostgresDSN(pg config.PostgresConfig) string {
	sslMode := pg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User, pg.Password, pg.Host, pg.Port, pg.DBName, sslMode)
}
