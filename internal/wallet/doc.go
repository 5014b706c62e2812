// Package wallet 管理与用户签名身份之间的连接。
//
// Connector 不持有任何持久化凭据：连接成功后返回不可变的 Identity 值，
// 后续的签名请求都以该值为准；账户或网络发生变化时身份即失效。
package wallet
