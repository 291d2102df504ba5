package decoder

// ToDecimal 将大端字节序列转换为缩放后的浮点数。
//
// 先按高位在前折叠为无符号整数, 如果 signed 为真则按 8*len(b) 位补码解释,
// 最后除以 divisor。b 的长度必须在 1..8 之间, divisor 必须大于 0, 由 schema 保证。
func ToDecimal(b []byte, signed bool, divisor uint) float64 {
	var raw uint64
	for _, v := range b {
		raw = raw<<8 | uint64(v)
	}
	if signed {
		// 左移到最高位再算术右移, 对所有宽度统一完成符号扩展
		shift := uint(64 - 8*len(b))
		return float64(int64(raw<<shift)>>shift) / float64(divisor)
	}
	return float64(raw) / float64(divisor)
}
