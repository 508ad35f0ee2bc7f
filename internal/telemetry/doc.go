// Package telemetry 负责 OpenTelemetry SDK 初始化，
// 为 Agent Lee 配置集中式的 TracerProvider 和 MeterProvider。
// 未启用时不创建任何导出器，全局 provider 保持 noop，
// HTTP 中间件与 agent/memory 中的 span 也随之成为空操作。
package telemetry
