// Package sink 定义了读数的输出端。
//
// 每种输出端在 init 中通过 Register 注册工厂函数, 配置 sink 列表中每个启用的条目
// 对应一个实例。实例在自己的协程中从通道读取 PointPackage, 写入外部系统。
// 写入失败只记录日志和指标, 不会中断网关。
package sink
