// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package content 定义知识库批量导入使用的页面结构，并提供 HTML 与 Markdown 解析。

Document 由若干 Section（标题 + 其后的段落与列表项）和 FAQ 问答对组成。
ParseHTML 基于 goquery 遍历 h1-h6 及其后续兄弟节点，并从 dl/dt/dd、
details/summary 与 .faq-question/.faq-answer 中提取问答对；以问号结尾的
标题也视为问答。ParseMarkdown 按 ATX 标题切分，识别列表与 "Q:"/"A:" 行。

本包不发起网络请求，抓取页面由调用方负责。
*/
package content
