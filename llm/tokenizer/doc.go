// Package tokenizer 提供可插拔的 token 计数能力。
// 默认实现是 chars/4 启发式估计; 需要精确计数时
// 可为模型注册基于 tiktoken 的分词器。
package tokenizer
