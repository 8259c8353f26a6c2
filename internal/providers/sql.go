package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// 注册 database/sql 驱动。
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

// SQLConfig 描述连接池参数。
type SQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn-max-idle-time"`
}

// SQL 提供共享的 *sql.DB，driver 取值 mysql 或 postgres。
type SQL struct {
	driver string
	db     *sql.DB
}

// NewMySQL 创建 MySQL provider。
func NewMySQL() *SQL { return &SQL{driver: "mysql"} }

// NewPostgres 创建 PostgreSQL provider。
func NewPostgres() *SQL { return &SQL{driver: "postgres"} }

// Init 实现 plugin.Initializable。
func (p *SQL) Init(ctx *plugin.ExecutionContext) error {
	var cfg SQLConfig
	if err := decode(ctx.Config, &cfg); err != nil {
		return err
	}
	db, err := openDatabase(contextOf(ctx), p.driver, cfg)
	if err != nil {
		return err
	}
	p.db = db
	return nil
}

// Get 实现 plugin.Provider。
func (p *SQL) Get(*plugin.Record) (any, error) {
	if p.db == nil {
		return nil, fmt.Errorf("%s database not initialised", p.driver)
	}
	return p.db, nil
}

// Ping 实现 Pinger。
func (p *SQL) Ping(ctx context.Context) error {
	if p.db == nil {
		return errors.New("database not initialised")
	}
	return p.db.PingContext(ctx)
}

// Stop 实现 plugin.Stoppable。
func (p *SQL) Stop(*plugin.ExecutionContext) error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func openDatabase(ctx context.Context, driver string, cfg SQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", driver, err)
	}
	return db, nil
}
