package main

import (
	"fmt"
	"os"

	"onetimemail/backend/internal/config"
	sqlstore "onetimemail/backend/internal/storage/sql"
)

// main 对配置的数据库执行建表迁移后退出。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "database type and DSN must be configured for migration")
		os.Exit(1)
	}

	// NewStore 在连接成功后自动执行迁移
	store, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fmt.Printf("migration completed for %s database\n", cfg.Database.Type)
}
