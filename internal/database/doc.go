// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开会话数据库并管理其连接池。

Open 按 config.DatabaseConfig 的驱动名选择 postgres、mysql 或 sqlite
方言，GORM 日志写入 zap。PoolManager 应用连接上限与生命周期，
后台定时 PingContext，成功后把 PoolStats 交给 StatsReporter
（服务进程将其写入 db_connections gauge）。WithTransaction
供 `streamgate app create` 在一个事务里登记 app。
*/
package database
