// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供 Agent Lee 记忆子系统的集合式文档存储。

# 概述

知识库、短期/长期记忆、访客档案与对话记录都以 Document 的形式保存在
命名集合（knowledge、memories、profiles、conversations、stats）中。
每个 Document 带三个二级索引：category（等值）、relevance 与
timestamp（区间，下界包含、上界不包含）。查询结果按 id 升序返回。

# 核心接口

  - Reader: Get、GetAll(Query)、Count。
  - Writer: Put（id 为 0 时分配新 id，否则 upsert）、Delete、Clear、
    ReplaceAll（清空后批量写入，作为一个单元执行）。
  - Store: Reader + Writer + Close + Ping。
  - ReadOnly 返回只暴露读操作的视图。

# 后端实现

  - Memory: 内存实现，适合开发与测试。
  - File: 每个集合一个 JSON 文件，临时文件加 rename 原子写入，文件带 version 字段。
  - SQL: GORM，支持 sqlite（纯 Go）、postgres、mysql；schema_meta 表记录版本。
  - Redis: Hash 存文档、Sorted Set 做区间索引、INCR 分配 id。
  - Mongo: 每个集合对应一个 MongoDB collection，副本集上 ReplaceAll 走事务。

# 使用方式

	store, err := persistence.Open(ctx, cfg, logger)

后端不可用（ErrStorageUnavailable）时 Open 记录告警并依次降级到
文件存储与内存存储，调用方始终拿到可用的 Store。
*/
package persistence
