// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、检索、学习、记忆整合与存储五个维度。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer，
测试中可以传入独立的 prometheus.NewRegistry()，避免重复注册。
所有指标按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小、限流拒绝数，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 检索指标：按 source（knowledge/memory）与 hit/miss 计数，
    命中置信度直方图。
  - 学习指标：按类别与成功/失败计数。
  - 整合指标：周期数、耗时、晋升与裁剪数量、各层大小、知识条目数。
  - 存储指标：按操作与集合的调用计数与耗时，SQL 连接池状态。
*/
package metrics
