// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的共享连接管理，承载跨副本可见的流协调状态。

# 概述

本包封装 go-redis 客户端，Manager 负责连接生命周期管理，包括初始化、
健康检查与优雅关闭。上层的 liveness 包在其之上实现带 TTL 的存活记录。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/Delete/TTL/Ping。
  - Config：地址、密码、连接池、命令超时与健康检查间隔。

# 错误语义

  - ErrCacheMiss：键不存在或已过期。
  - ErrClosed：管理器已关闭。
*/
package cache
