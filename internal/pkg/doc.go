/*
Package pkg 包含了项目的公共类部分。具体地：

config.go -- 统一定义了所有配置的加载项，便于使用

logger.go -- 配置logger项

errChan.go -- 全局错误通道

perf.go -- 各阶段的消息计数

以下项因为在多个模块共用，故放置在此包中

point.go -- Connector、Parser、Sink 之间传递的数据结构
*/
package pkg
