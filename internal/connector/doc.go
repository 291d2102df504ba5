// Package connector 提供上行数据的接入方式。
//
// 每种连接器在 init 中通过 Register 注册工厂函数, 由配置 connector::type 选择。
// 连接器只负责把收到的原始负载包装为 pkg.Message 写入通道, 不关心负载格式。
//
// 目前支持:
//   - mqtt: 订阅网络服务器发布的上行事件, 设备标识取自主题
//   - udp: 每个数据报一条消息, 设备标识为来源地址或其别名
package connector
