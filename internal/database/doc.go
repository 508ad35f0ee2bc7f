// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供 SQL 文档存储使用的 GORM 连接池管理。

# 概述

Open 按驱动名（sqlite / postgres / mysql）构造 dialector 并创建
PoolManager；sqlite 使用纯 Go 的 glebarez 驱动，连接数固定为 1。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 Ping、Close、
    GetStats 与事务执行。
  - PoolConfig：连接池参数与健康检查间隔。

# 事务

WithTransactionRetry 对死锁、序列化失败、sqlite 锁等待等错误做指数退避重试，
持久化层的 ReplaceAll 通过它执行清空并批量写入。
*/
package database
