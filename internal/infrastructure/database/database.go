// Package database 负责 PostgreSQL 连接池的初始化与生命周期管理。
// 包括：连接池配置、健康检查、内嵌迁移与优雅关闭。
package database

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
)

// NewPgxPool 创建并配置 pgxpool.Pool。
//
// 职责：
//  1. 解析 DSN 并应用连接池参数
//  2. 集成 Kratos Logger（仅记录失败查询）
//  3. 设置默认 Schema（search_path）
//  4. 启动时健康检查（Ping + 版本查询）
//  5. 返回 cleanup 函数（Wire 自动调用）
func NewPgxPool(ctx context.Context, cfg configloader.DatabaseConfig, logger log.Logger) (*pgxpool.Pool, func(), error) {
	helper := log.NewHelper(logger)

	dsn := cfg.DSN
	if dsn == "" {
		return nil, nil, fmt.Errorf("postgres DSN is required (set DATABASE_URL)")
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MinOpenConns >= 0 {
		poolConfig.MinConns = int32(cfg.MinOpenConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	poolConfig.ConnConfig.Tracer = &pgxLogger{helper: helper}

	// search_path 优先级：配置 schema > DSN 中的 search_path
	if schema := cfg.Schema; schema != "" {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema))
			if err != nil {
				return fmt.Errorf("failed to set search_path: %w", err)
			}
			return nil
		}
	}

	// 连接池代理（PgBouncer/Supavisor）模式必须禁用 prepared statements
	if !cfg.PreparedStmts {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := healthCheck(ctx, pool, helper); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres health check failed: %w", err)
	}

	helper.Infof(
		"postgres pool created: dsn=%s max_conns=%d min_conns=%d schema=%s prepared_statements=%v",
		sanitizeDSN(dsn),
		poolConfig.MaxConns,
		poolConfig.MinConns,
		cfg.Schema,
		cfg.PreparedStmts,
	)

	cleanup := func() {
		helper.Info("closing postgres pool")
		pool.Close()
	}
	return pool, cleanup, nil
}

// healthCheck 执行启动期数据库健康检查：Ping 连接并查询版本。
func healthCheck(ctx context.Context, pool *pgxpool.Pool, helper *log.Helper) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(healthCtx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var version string
	if err := pool.QueryRow(healthCtx, "SELECT version()").Scan(&version); err != nil {
		return fmt.Errorf("version query failed: %w", err)
	}

	helper.Infof("database health check passed: version=%s", truncateVersion(version))
	return nil
}

// sanitizeDSN 对 DSN 脱敏，隐藏密码。
func sanitizeDSN(dsn string) string {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if parsed.User != nil {
		username := parsed.User.Username()
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(username, "***")
		}
	}
	return parsed.String()
}

// truncateVersion 截断 PostgreSQL 版本字符串，避免日志过长。
func truncateVersion(version string) string {
	if idx := strings.Index(version, "("); idx != -1 {
		return strings.TrimSpace(version[:idx])
	}
	if len(version) > 100 {
		return version[:100] + "..."
	}
	return version
}

// pgxLogger 实现 pgx.QueryTracer，仅在查询失败时记录错误日志。
type pgxLogger struct {
	helper *log.Helper
}

func (l *pgxLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	return ctx
}

// TraceQueryEnd 仅记录错误，不记录 SQL 以避免敏感数据泄露。
func (l *pgxLogger) TraceQueryEnd(_ context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		l.helper.Errorf(
			"postgres query failed: error=%v command_tag=%s",
			data.Err,
			data.CommandTag.String(),
		)
	}
}
