// Package analysis 定义内容分析的输入输出契约，并提供网关、本地桩分析器以及
// 基于 HTTP 的远程分析器实现。
package analysis
