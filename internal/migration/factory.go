package migration

import (
	"errors"
	"fmt"

	appconfig "github.com/BaSui01/streamgate/config"
)

// NewMigratorFromConfig 使用应用配置中的 database 段创建迁移器
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig 按数据库配置创建迁移器，沿用其迁移表名
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	url, dbType, err := DatabaseURL(dbCfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: url, TableName: dbCfg.MigrationsTable})
}

// DatabaseURL 把数据库配置转换为迁移连接串。SQLite 的文件路径保存在 Name 中。
func DatabaseURL(dbCfg appconfig.DatabaseConfig) (string, DatabaseType, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return "", "", fmt.Errorf("invalid database type: %w", err)
	}

	host, port, user, password, sslMode := dbCfg.Host, dbCfg.Port, dbCfg.User, dbCfg.Password, dbCfg.SSLMode
	switch dbType {
	case DatabaseTypeMySQL:
		sslMode = ""
	case DatabaseTypeSQLite:
		host, port, user, password, sslMode = "", 0, "", "", ""
	}
	return BuildDatabaseURL(dbType, host, port, dbCfg.Name, user, password, sslMode), dbType, nil
}

// NewMigratorFromURL 供 --db-type / --db-url 直接指定连接时使用
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL})
}
