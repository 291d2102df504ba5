// Package schema 定义了上行报文中字段的静态描述表。
//
// 每个字段由一个单字节的类型码标识，描述其名称、字节宽度、是否有符号以及缩放除数。
// Schema 在启动时构建一次，之后只读，可以被多个解码流程并发共享。
package schema

import (
	"fmt"
	"sort"
)

// maxSize 单个字段最多 8 字节，保证原始整数可以放入 64 位
const maxSize = 8

// FieldDescriptor 描述一种字段的形状
type FieldDescriptor struct {
	Name    string // 字段名称
	Size    int    // 字段在报文中占用的字节数
	Signed  bool   // 原始整数是否为补码有符号数
	Divisor uint   // 缩放除数, 解码值 = 原始整数 / Divisor
}

// Entry 是构建 Schema 时的一条输入, 通常来自配置文件
type Entry struct {
	Code    int    `mapstructure:"code" yaml:"code" json:"code"`
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	Size    int    `mapstructure:"size" yaml:"size" json:"size"`
	Signed  bool   `mapstructure:"signed" yaml:"signed" json:"signed"`
	Divisor int    `mapstructure:"divisor" yaml:"divisor" json:"divisor"`
}

// Schema 类型码到字段描述的只读映射
type Schema struct {
	fields map[uint8]FieldDescriptor
}

// Build 根据 entries 构建 Schema, 任意一条非法都会导致整体失败, 不返回部分结果
func Build(entries []Entry) (*Schema, error) {
	fields := make(map[uint8]FieldDescriptor, len(entries))
	for _, e := range entries {
		if err := validate(e); err != nil {
			return nil, err
		}
		code := uint8(e.Code)
		if _, exists := fields[code]; exists {
			return nil, &InvalidDescriptorError{Code: e.Code, Name: e.Name, Reason: "duplicate type code"}
		}
		fields[code] = FieldDescriptor{
			Name:    e.Name,
			Size:    e.Size,
			Signed:  e.Signed,
			Divisor: uint(e.Divisor),
		}
	}
	return &Schema{fields: fields}, nil
}

func validate(e Entry) error {
	invalid := func(reason string) error {
		return &InvalidDescriptorError{Code: e.Code, Name: e.Name, Reason: reason}
	}
	switch {
	case e.Size == 0:
		return invalid("byte width is zero")
	case e.Divisor == 0:
		return invalid("divisor is zero")
	case e.Size < 0:
		return invalid(fmt.Sprintf("byte width %d is negative", e.Size))
	case e.Size > maxSize:
		return invalid(fmt.Sprintf("byte width %d exceeds %d", e.Size, maxSize))
	case e.Divisor < 0:
		return invalid(fmt.Sprintf("divisor %d is negative", e.Divisor))
	case e.Code < 0 || e.Code > 0xFF:
		return invalid(fmt.Sprintf("type code %d does not fit in one byte", e.Code))
	case e.Name == "":
		return invalid("name is empty")
	}
	return nil
}

// Lookup 精确匹配类型码
func (s *Schema) Lookup(code uint8) (FieldDescriptor, bool) {
	fd, ok := s.fields[code]
	return fd, ok
}

// Len 返回字段描述的数量
func (s *Schema) Len() int {
	return len(s.fields)
}

// Codes 返回升序排列的所有类型码
func (s *Schema) Codes() []uint8 {
	codes := make([]uint8, 0, len(s.fields))
	for code := range s.fields {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Entries 按类型码升序导出, 用于展示
func (s *Schema) Entries() []Entry {
	codes := s.Codes()
	out := make([]Entry, 0, len(codes))
	for _, code := range codes {
		fd := s.fields[code]
		out = append(out, Entry{
			Code:    int(code),
			Name:    fd.Name,
			Size:    fd.Size,
			Signed:  fd.Signed,
			Divisor: int(fd.Divisor),
		})
	}
	return out
}

func (s *Schema) String() string {
	return fmt.Sprintf("Schema(%d fields)", len(s.fields))
}
