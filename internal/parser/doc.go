// Package parser 负责把连接器收到的原始消息还原成字段字节流并解码。
//
// 消息的编码方式 (raw、hex、base64 或 ChirpStack 风格的 JSON 上行事件)
// 由配置 decoder::encoding 决定, 解码得到的读数被打包成 pkg.PointPackage
// 交给 dispatcher。
package parser
