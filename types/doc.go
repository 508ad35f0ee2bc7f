// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 Agent Lee 各模块共享的记录类型与错误码。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 persistence、memory、
conversation 与 api 等上层模块提供统一的数据契约，避免循环依赖。

# 核心类型

  - KnowledgeRecord   — 知识条目（pattern → response，按 category 归类）
  - MemoryRecord      — 交互记忆（input / response / relevance / accessCount）
  - Tier              — 记忆层级（short_term / long_term）
  - UserProfile       — 访客画像（姓名、联系方式、兴趣、访问计数）
  - ConversationEntry — 对话日志条目（user / agent / system）
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
*/
package types
