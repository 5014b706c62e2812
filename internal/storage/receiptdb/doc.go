// Package receiptdb 持久化已确认的证明回执，供账本查询使用。
//
// 支持三种驱动：memory（JSON lines 文件，可选落盘）、mysql 与 sqlite，
// 均以 (fingerprint, address) 为唯一键，重复写入视为成功的空操作。
package receiptdb
