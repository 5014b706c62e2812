// Package events 在证明发布后投递 proof.published 事件，支持内存、Redis list
// 与 RabbitMQ 三种传输。
package events
