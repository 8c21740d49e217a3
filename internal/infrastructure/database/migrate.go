package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/pressly/goose/v3"

	// 注册 database/sql 的 pgx 驱动，供 goose 使用。
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/database/migrations"
)

// RunMigrations 用内嵌脚本将数据库迁移到最新版本。启动期调用，幂等。
func RunMigrations(ctx context.Context, dsn string, logger log.Logger) error {
	helper := log.NewHelper(logger)
	if dsn == "" {
		return fmt.Errorf("postgres DSN is required for migrations")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			helper.Warnf("close migration connection: %v", closeErr)
		}
	}()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	helper.Infof("database migrations applied: version=%d", version)
	return nil
}
