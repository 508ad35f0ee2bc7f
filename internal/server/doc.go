// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
Agent Lee 用两个 Manager 分别承载 API 与 /metrics 监听。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务，Addr 返回实际绑定地址。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空。
  - 等待退出：Wait 在上下文结束（通常来自 signal.NotifyContext）
    或服务器异常退出时返回。
*/
package server
