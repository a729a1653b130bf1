// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 提供会话消息与应用的持久化存储。

# 核心类型

  - Store：会话消息存储接口，SaveMessages 以消息 ID 幂等。
  - GormStore：基于 gorm 的实现，支持 PostgreSQL、MySQL 与 SQLite，
    写入时使用 ON CONFLICT DO NOTHING。
  - MemoryStore：内存实现，适用于开发与测试。
  - AppStore：应用注册表，GetApp 对未知 ID 返回 ErrAppNotFound。
*/
package conversation
