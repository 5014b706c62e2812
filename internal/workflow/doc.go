// Package workflow 实现内容到证明的状态机：
//
//	Idle → ContentSubmitted → Analyzed → WalletConnected → ProofPublished
//
// 任一步骤失败进入 Failed，只能通过新的 Submit 离开。控制器同一时刻只允许
// 一个进行中的操作，被取消的操作返回后其结果会被丢弃。
package workflow
