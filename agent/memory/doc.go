// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 memory 提供 Agent Lee 的知识库、记忆分层与交互学习。

# 概述

TrainingSystem 是进程内唯一的服务对象，启动时构造一次并注入到
HTTP handler 与 CLI。它持有以下组件，全部通过 persistence.Store 持久化：

  - [KnowledgeBase]：category -> pattern -> response 映射，支持精确与模糊查找。
  - [Ranker]：按 relevance*0.4 + 文本相关度*0.6 对记忆排序。
  - [TieringEngine]：短期/长期两层记忆，周期性整合（重算 -> 晋升 -> 裁剪 -> 持久化）。
  - [Learner]：记录每次交互，成功的交互同时沉淀为知识。

# 匹配置信度

[Confidence] 对规范化后的文本打分：完全相同为 1.0，pattern 包含输入为 0.9，
输入包含 pattern 为 0.8，否则为词重叠比例。[KnowledgeBase.Find] 只返回
严格大于阈值（默认 0.6）的最佳匹配，否则返回 [RetrievalMiss]。

# 相关度公式

	relevance = base*0.6 + exp(-rate*ageDays)*0.2 + log10(access+1)*0.1 + success*0.1

success 为 1.2（成功）或 0.8（失败）。短期记忆衰减率 0.1/天、上限 0.95，
长期记忆衰减率 0.01/天、上限 0.99。base 为创建时的初始相关度（0.6/0.3），
因此同一时刻连续整合两次结果一致。

# 并发

整合由 robfig/cron 调度，也会在短期记忆满时同步触发；同一时刻只允许一个
整合周期，重入返回 [ErrConsolidationInProgress]。
*/
package memory
