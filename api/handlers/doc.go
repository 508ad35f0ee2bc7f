// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Agent Lee HTTP API 的请求处理器实现。

# 概述

handlers 包实现聊天挂件调用的全部端点：问答、学习、教学、纠正、
站点内容训练、记忆检索、统计与访客上下文查询，以及健康检查和统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口，路由使用
Go 1.22 的方法 + 路径模式注册。

# 核心类型

  - AssistantHandler — /api/v1 下的问答、学习与运维端点
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /readyz, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与响应大小
  - HealthCheck      — 可插拔健康检查接口（PingCheck 包装存储 Ping）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 领域错误映射：WriteServiceError 将 types.Error 与 persistence、memory
    的哨兵错误转换为对应的 HTTP 状态码
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 兜底回复：检索未命中时返回可热更新的 FallbackResponse
  - AdminPaths 列出需要 API Key 的写入与运维端点
*/
package handlers
