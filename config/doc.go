// Package config 提供 Agent Lee 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → AGENTLEE_* 环境变量 的顺序叠加，
// 覆盖服务器、存储、记忆、对话、日志、遥测与限流各段。
// HotReloadManager 在配置文件变化时重新加载并通知订阅者，
// 用于运行时调整日志级别、限流参数、兜底回复、CORS 来源与 API Key。
package config
