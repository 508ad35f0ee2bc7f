// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 Agent Lee 服务端与离线训练命令的程序入口。

# 概述

cmd/agentlee 启动 HTTP API 服务，并提供直接读写存储的训练子命令
（ask、teach、correct、train、consolidate、stats、export、import、reset）。
程序支持 YAML 配置加环境变量覆盖、结构化日志（zap）、Prometheus 指标、
OpenTelemetry 追踪以及配置热重载。

# 核心类型

  - Server       — 主服务器，组装存储、训练系统、访客上下文与 API/Metrics 双端口
  - Middleware   — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - APIKeyAuth   — 管理端点的 API Key 校验，密钥可热更新
  - CORS         — 来源白名单，支持 "*"
  - RateLimiter  — 按客户端 IP 的令牌桶限流，速率可热更新

# 中间件链

Recovery → RequestID → OTelTracing → SecurityHeaders → RequestLogger →
MetricsMiddleware → CORS → RateLimiter → APIKeyAuth

# 热重载

配置文件变化后，日志级别、限流速率、兜底回复、CORS 来源与 API Key
立即生效；其余字段记录为需要重启。

# 优雅关闭

信号 → 停止热更新 → 关闭 HTTP/Metrics → 停止后台任务 →
停止整合调度并关闭存储 → 刷新遥测。
*/
package main
