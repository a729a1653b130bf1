// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 streamgate 会话数据库的 Schema 版本。

迁移文件按方言内嵌在 migrations/{postgres,mysql,sqlite} 下，覆盖
apps 与 conversation_messages 两张表，由 golang-migrate 执行。
SQLite 通过纯 Go 的 modernc 驱动打开，因此 migrate 子命令无需 CGO。

DefaultMigrator 实现 Migrator 接口；CLI 为 `streamgate migrate`
提供子命令分发与表格输出。NewMigratorFromConfig 与 DatabaseURL
把应用的 database 配置段转换为迁移连接串，NewMigratorFromURL
用于命令行直接指定连接。

服务启动时的 database.auto_migrate 走 GORM AutoMigrate，
与本包的版本化迁移互不依赖。
*/
package migration
