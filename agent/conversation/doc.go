// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 维护访客档案、滚动对话记录与偏好。

# 概述

[Manager] 以用户 ID 为键保存 [types.UserProfile]、最多 HistoryLimit
（默认 100）条对话与一个偏好字典。档案写入 profiles 集合（category 为用户 ID），
每条对话交给 [TranscriptSink]，默认的 [StoreTranscriptSink] 写入 conversations 集合。

# 文本分类

[Classifier] 是可替换的文本理解组件。默认的 [RegexClassifier] 使用导出的
[NamePatterns]、[EmailPattern]、[PhonePattern]、[InterestPatterns] 与
[InterestKeywords]，并按固定顺序判定意图：greeting、farewell、thanks、
navigation、contact、question。
*/
package conversation
