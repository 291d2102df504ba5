package pkg

import "sync"

// BytesPool 是一个字节池，用于缓存接收缓冲区
// 减少gc， 减少内存分配
type BytesPool struct {
	size int
	pool *sync.Pool
}

// NewBytesPool 创建一个字节池
// size 是每个缓冲区的大小
func NewBytesPool(size int) *BytesPool {
	return &BytesPool{
		size: size,
		pool: &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get 从字节池中获取一个缓冲区
func (p *BytesPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put 将缓冲区放回字节池, 长度不符的缓冲区直接丢弃
func (p *BytesPool) Put(b *[]byte) {
	if b == nil || cap(*b) < p.size {
		return
	}
	*b = (*b)[:p.size]
	p.pool.Put(b)
}

// Size 返回缓冲区大小
func (p *BytesPool) Size() int {
	return p.size
}
