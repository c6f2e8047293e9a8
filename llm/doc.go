// Package llm 定义统一的 LLM 适配接口与配套的弹性能力：
// 消息/请求/响应类型、错误分类、中间件链（调试日志、延迟统计、
// 限流）、重试装饰器与可选的响应缓存。
//
// 具体的 HTTP 适配实现见 providers/stackspot。
package llm
