// Package ledger 消费证明发布事件，并将回执写入回执存储。
package ledger
