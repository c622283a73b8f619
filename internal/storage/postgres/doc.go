// Package postgres 基于 pgxpool 实现轮询式任务队列，领取阶段使用
// FOR UPDATE SKIP LOCKED 让多个 worker 并发领取而不互相阻塞。
package postgres
