// Package registry 提供证明登记协作方：进程内登记表、链上 AuthRegistry 合约
// 以及基于 Redis 的回执缓存。所有实现都以 (fingerprint, address) 为幂等键。
package registry
