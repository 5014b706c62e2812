// Package publisher 将证明指纹与签名身份组合为登记交易并等待确认。
//
// 重复登记视为成功并返回已有回执；网络不一致立即失败，不做重试；
// 登记表不可达时按指数退避重试有限次数。
package publisher
