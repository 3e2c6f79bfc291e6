// Package database 提供数据库连接与迁移功能。
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/MorseWayne/stock_ledger/internal/config"
)

// DB 封装数据库连接。
type DB struct {
	*sql.DB
	logger *zap.Logger
	dsn    string
}

// New 创建数据库连接并验证连通性。
func New(cfg *config.Config, logger *zap.Logger) (*DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
	)

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// 连接池配置：台账操作短事务居多，保持适中的池规模
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.DBName),
	)

	return &DB{DB: sqlDB, logger: logger, dsn: dsn}, nil
}

// RunMigrations 使用 go-migrate 应用所有待执行的向上迁移。
// 在HTTP服务器启动前执行，保证处理请求时表结构已就绪。
func (db *DB) RunMigrations(migrationsDir string) error {
	m, cleanup, err := db.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	defer cleanup()

	currentVersion, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("get current version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d, please check and fix manually", currentVersion)
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			db.logger.Info("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("run migrations: %w", err)
	}

	newVersion, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("get new version: %w", err)
	}

	db.logger.Info("migrations completed successfully",
		zap.Uint("from_version", currentVersion),
		zap.Uint("to_version", newVersion),
	)
	return nil
}

// MigrateDown 执行向下迁移（回滚），生产环境慎用。
func (db *DB) MigrateDown(migrationsDir string, steps int) error {
	m, cleanup, err := db.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	defer cleanup()

	currentVersion, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d", currentVersion)
	}

	db.logger.Info("starting migration rollback",
		zap.Uint("current_version", currentVersion),
		zap.Int("steps", steps),
	)

	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// MigrationVersion 返回当前迁移版本与脏状态。
func (db *DB) MigrationVersion(migrationsDir string) (uint, bool, error) {
	m, cleanup, err := db.newMigrate(migrationsDir)
	if err != nil {
		return 0, false, err
	}
	defer cleanup()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return 0, false, fmt.Errorf("get version: %w", err)
	}
	return version, dirty, nil
}

// ForceMigrationVersion 强制设置迁移版本，仅用于修复脏状态。
func (db *DB) ForceMigrationVersion(migrationsDir string, version uint) error {
	m, cleanup, err := db.newMigrate(migrationsDir)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Force(int(version)); err != nil {
		return fmt.Errorf("force migration version: %w", err)
	}
	db.logger.Info("migration version forced", zap.Uint("version", version))
	return nil
}

// newMigrate 基于独立连接创建 migrate 实例，避免迁移错误影响主连接。
func (db *DB) newMigrate(migrationsDir string) (*migrate.Migrate, func(), error) {
	migrateSQLDB, err := sql.Open("mysql", db.dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database for migration: %w", err)
	}

	driver, err := mysql.WithInstance(migrateSQLDB, &mysql.Config{})
	if err != nil {
		_ = migrateSQLDB.Close()
		return nil, nil, fmt.Errorf("create mysql driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsDir),
		"mysql",
		driver,
	)
	if err != nil {
		_ = migrateSQLDB.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	cleanup := func() {
		_, _ = m.Close()
		_ = migrateSQLDB.Close()
	}
	return m, cleanup, nil
}
